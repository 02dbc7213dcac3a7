// Package middleware implements the onion-model before/after/onError chain
// that wraps module execution (spec §4.4).
package middleware

import (
	"context"

	"github.com/dispatchkit/core/internal/core"
)

// Middleware is a pluggable interceptor. A middleware defines any subset of
// the three hooks below by implementing the matching optional interface
// (BeforeHook, AfterHook, OnErrorHook); an implementation that skips a hook
// is simply not type-asserted for it, which is equivalent to the spec's
// "no-op" return.
type Middleware interface {
	// Name identifies the middleware in diagnostics and the Manager's List.
	Name() string
}

// BeforeHook is implemented by middlewares that inspect or rewrite inputs
// before execution. A non-nil returned Record replaces inputs for the next
// middleware and for execution itself.
type BeforeHook interface {
	Before(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error)
}

// AfterHook is implemented by middlewares that inspect or rewrite output
// after execution. A non-nil returned Record replaces output for the next
// middleware (in reverse order).
type AfterHook interface {
	After(ctx context.Context, moduleID string, inputs, output core.Record, callCtx *core.Context) (core.Record, error)
}

// OnErrorHook is implemented by middlewares that can recover from a failure.
// A non-nil returned Record short-circuits the error into a successful
// result.
type OnErrorHook interface {
	OnError(ctx context.Context, moduleID string, inputs core.Record, cause error, callCtx *core.Context) (core.Record, error)
}

// ChainError wraps a failure raised by a Before/After hook together with
// the subset of middlewares that had already executed successfully at the
// point of failure. It is internal: the executor consults it to drive
// error-recovery and must never let it escape as the call's own error
// (spec §7 MIDDLEWARE_CHAIN_ERROR — "never surfaced as the outer failure").
type ChainError struct {
	Cause    error
	Executed []Middleware
}

func (e *ChainError) Error() string { return e.Cause.Error() }
func (e *ChainError) Unwrap() error { return e.Cause }

// Manager runs the registered middlewares in an onion model: before in
// registration order, after and onError in reverse of the subset that
// actually ran (spec §5 "before runs in registration order; after and
// onError run in reverse of the executed subset").
type Manager struct {
	middlewares []Middleware
}

// NewManager returns a Manager with no middlewares registered.
func NewManager() *Manager {
	return &Manager{}
}

// Use appends m to the end of the chain.
func (m *Manager) Use(mw Middleware) {
	m.middlewares = append(m.middlewares, mw)
}

// List returns a snapshot of the registered middlewares, in registration
// order.
func (m *Manager) List() []Middleware {
	out := make([]Middleware, len(m.middlewares))
	copy(out, m.middlewares)
	return out
}

// ExecuteBefore runs before(moduleId, inputs, ctx) on every middleware that
// implements BeforeHook, forward, threading the (possibly replaced) Record
// through each call. It returns the final effective inputs and the list of
// middlewares that had already run (successfully) at the point a failure
// occurred, if any. On failure the returned error is a *ChainError.
func (m *Manager) ExecuteBefore(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, []Middleware, error) {
	effective := inputs
	executed := make([]Middleware, 0, len(m.middlewares))

	for _, mw := range m.middlewares {
		hook, ok := mw.(BeforeHook)
		if !ok {
			executed = append(executed, mw)
			continue
		}
		result, err := hook.Before(ctx, moduleID, effective, callCtx)
		if err != nil {
			return effective, executed, &ChainError{Cause: err, Executed: executed}
		}
		if result != nil {
			effective = result
		}
		executed = append(executed, mw)
	}

	return effective, executed, nil
}

// ExecuteAfter runs after(moduleId, inputs, output, ctx) on executed (the
// list ExecuteBefore returned, on both the Call and the Stream paths) in
// reverse order, threading output through each call that implements
// AfterHook.
func (m *Manager) ExecuteAfter(ctx context.Context, moduleID string, inputs, output core.Record, callCtx *core.Context, executed []Middleware) (core.Record, error) {
	effective := output

	for i := len(executed) - 1; i >= 0; i-- {
		hook, ok := executed[i].(AfterHook)
		if !ok {
			continue
		}
		result, err := hook.After(ctx, moduleID, inputs, effective, callCtx)
		if err != nil {
			return effective, &ChainError{Cause: err, Executed: executed[:i+1]}
		}
		if result != nil {
			effective = result
		}
	}

	return effective, nil
}

// ExecuteOnError offers cause to onError(moduleId, inputs, cause, ctx) on
// executed in reverse order. The first non-nil returned Record recovers:
// recovered is true and the Record becomes the call's result. A handler
// that itself errors is swallowed and the next handler (further back in
// the chain) is tried (spec §4.3 "onError implementations that themselves
// throw are swallowed").
func (m *Manager) ExecuteOnError(ctx context.Context, moduleID string, inputs core.Record, cause error, callCtx *core.Context, executed []Middleware) (result core.Record, recovered bool) {
	for i := len(executed) - 1; i >= 0; i-- {
		hook, ok := executed[i].(OnErrorHook)
		if !ok {
			continue
		}
		rec, err := func() (r core.Record, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = nil
					r = nil
				}
			}()
			return hook.OnError(ctx, moduleID, inputs, cause, callCtx)
		}()
		if err != nil {
			continue
		}
		if rec != nil {
			return rec, true
		}
	}
	return nil, false
}
