package middleware

import (
	"context"

	"github.com/dispatchkit/core/internal/core"
)

// BeforeFunc is the callback shape wrapped by BeforeMiddleware.
type BeforeFunc func(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error)

// AfterFunc is the callback shape wrapped by AfterMiddleware.
type AfterFunc func(ctx context.Context, moduleID string, inputs, output core.Record, callCtx *core.Context) (core.Record, error)

// beforeMiddleware adapts a single callback into a full Middleware whose
// after/onError hooks are absent (spec §4.4 "Adapters... wrap simple
// callbacks into full middlewares that no-op the other hooks").
type beforeMiddleware struct {
	name string
	fn   BeforeFunc
}

// BeforeMiddleware wraps fn as a Middleware implementing only BeforeHook.
func BeforeMiddleware(name string, fn BeforeFunc) Middleware {
	return &beforeMiddleware{name: name, fn: fn}
}

func (b *beforeMiddleware) Name() string { return b.name }
func (b *beforeMiddleware) Before(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error) {
	return b.fn(ctx, moduleID, inputs, callCtx)
}

// afterMiddleware wraps a single callback into a full Middleware whose
// before/onError hooks are absent.
type afterMiddleware struct {
	name string
	fn   AfterFunc
}

// AfterMiddleware wraps fn as a Middleware implementing only AfterHook.
func AfterMiddleware(name string, fn AfterFunc) Middleware {
	return &afterMiddleware{name: name, fn: fn}
}

func (a *afterMiddleware) Name() string { return a.name }
func (a *afterMiddleware) After(ctx context.Context, moduleID string, inputs, output core.Record, callCtx *core.Context) (core.Record, error) {
	return a.fn(ctx, moduleID, inputs, output, callCtx)
}
