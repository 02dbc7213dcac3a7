package executor

import (
	"github.com/dispatchkit/core/internal/acl"
	"github.com/dispatchkit/core/internal/approval"
	"github.com/dispatchkit/core/internal/extension"
	"github.com/dispatchkit/core/internal/middleware"
)

// MiddlewareExtension is implemented by a KindMiddleware extension.Extension
// that contributes one middleware.Middleware to the executor's before/after
// chain.
type MiddlewareExtension interface {
	extension.Extension
	Middleware() middleware.Middleware
}

// ACLExtension is implemented by a KindACL extension.Extension that
// supplies the executor's access-control evaluator.
type ACLExtension interface {
	extension.Extension
	ACL() *acl.ACL
}

// ApprovalExtension is implemented by a KindApproval extension.Extension
// that supplies the executor's approval gate handler.
type ApprovalExtension interface {
	extension.Extension
	ApprovalHandler() approval.Handler
}

// WithExtensions wires mgr's registered extensions into the executor
// (spec §2 "Extension manager"): every KindMiddleware extension
// implementing MiddlewareExtension is appended to the middleware chain in
// Order; the first KindACL extension implementing ACLExtension becomes the
// executor's ACL, and the first KindApproval extension implementing
// ApprovalExtension becomes its approval handler, unless one is already
// set. Place it before any explicit WithACL/WithMiddleware/
// WithApprovalHandler option in the option list so an explicit option
// still wins over an extension-supplied one.
func WithExtensions(mgr *extension.Manager) Option {
	return func(e *Executor) {
		for _, ext := range mgr.Get(extension.KindMiddleware) {
			me, ok := ext.(MiddlewareExtension)
			if !ok {
				continue
			}
			if e.mw == nil {
				e.mw = middleware.NewManager()
			}
			e.mw.Use(me.Middleware())
		}

		if e.acl == nil {
			for _, ext := range mgr.Get(extension.KindACL) {
				if ae, ok := ext.(ACLExtension); ok {
					e.acl = ae.ACL()
					break
				}
			}
		}

		if e.approvalH == nil {
			for _, ext := range mgr.Get(extension.KindApproval) {
				if ae, ok := ext.(ApprovalExtension); ok {
					e.approvalH = ae.ApprovalHandler()
					break
				}
			}
		}
	}
}
