// Package approval implements the pluggable approval gate (spec §4.5):
// phase-A request/phase-B resume-by-token, plus the built-in handlers and a
// policy-driven handler with checkpoint persistence and expiry.
package approval

import (
	"context"

	"github.com/dispatchkit/core/internal/core"
)

// Handler is a pluggable approval gate implementation. RequestApproval is
// phase A (no `_approval_token` present in the call's inputs); CheckApproval
// is phase B, given the token the caller supplied to resume.
type Handler interface {
	RequestApproval(ctx context.Context, req *core.ApprovalRequest) (*core.ApprovalResult, error)
	CheckApproval(ctx context.Context, approvalID string) (*core.ApprovalResult, error)
}

// AlwaysDeny is the safe default handler: every request is rejected, and
// every check of a (necessarily unknown) approval ID reports rejected too.
type AlwaysDeny struct{}

func (AlwaysDeny) RequestApproval(ctx context.Context, req *core.ApprovalRequest) (*core.ApprovalResult, error) {
	return &core.ApprovalResult{Status: core.ApprovalRejected, Reason: "no approval handler configured"}, nil
}

func (AlwaysDeny) CheckApproval(ctx context.Context, approvalID string) (*core.ApprovalResult, error) {
	return &core.ApprovalResult{Status: core.ApprovalRejected, Reason: "no approval handler configured"}, nil
}

// AutoApprove approves every request unconditionally. Intended for tests
// and local development, never for production ACL-adjacent policy.
type AutoApprove struct{}

func (AutoApprove) RequestApproval(ctx context.Context, req *core.ApprovalRequest) (*core.ApprovalResult, error) {
	return &core.ApprovalResult{Status: core.ApprovalApproved, ApprovedBy: "auto"}, nil
}

func (AutoApprove) CheckApproval(ctx context.Context, approvalID string) (*core.ApprovalResult, error) {
	return &core.ApprovalResult{Status: core.ApprovalApproved, ApprovedBy: "auto"}, nil
}

// RequestFunc is the user-supplied phase-A decision function a Callback
// handler delegates to.
type RequestFunc func(ctx context.Context, req *core.ApprovalRequest) (*core.ApprovalResult, error)

// ResumeFunc is an optional user-supplied phase-B decision function. When
// nil, Callback.CheckApproval always reports rejected ("not supported"),
// matching spec §4.5's description of the built-in Callback handler.
type ResumeFunc func(ctx context.Context, approvalID string) (*core.ApprovalResult, error)

// Callback delegates phase A to a user function; phase B returns rejected
// with "not supported" unless a ResumeFunc was supplied.
type Callback struct {
	Request RequestFunc
	Resume  ResumeFunc
}

func (c Callback) RequestApproval(ctx context.Context, req *core.ApprovalRequest) (*core.ApprovalResult, error) {
	return c.Request(ctx, req)
}

func (c Callback) CheckApproval(ctx context.Context, approvalID string) (*core.ApprovalResult, error) {
	if c.Resume == nil {
		return &core.ApprovalResult{Status: core.ApprovalRejected, Reason: "not supported"}, nil
	}
	return c.Resume(ctx, approvalID)
}
