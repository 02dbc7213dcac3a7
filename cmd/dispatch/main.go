// Command dispatch is the reference CLI binary for the module-call
// orchestration core: it wires a handful of built-in modules into the
// process-wide function registry and hands off to the cobra command tree
// in internal/cli.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dispatchkit/core/internal/cli"
	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/executor"
	"github.com/dispatchkit/core/internal/extension"
	"github.com/dispatchkit/core/internal/middleware"
)

func main() {
	registerBuiltins()
	registerExtensions()

	err := cli.NewRootCommand().Execute()

	if errs := cli.Extensions.DisposeAll(context.Background()); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("extension dispose failed", "error", e)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

// registerBuiltins binds a couple of demonstration modules so that
// `dispatch discover` and `dispatch call` have something concrete to find
// when pointed at the example manifests under registry-root. Production
// embedders register their own factories into cli.Functions the same way.
func registerBuiltins() {
	cli.Functions.Register("dispatch.builtin.echo", func() (core.Module, error) {
		return echoModule{}, nil
	})
	cli.Functions.Register("dispatch.builtin.ping", func() (core.Module, error) {
		return pingModule{}, nil
	})
}

// registerExtensions wires a demonstration middleware extension into the
// process-wide extension manager so the extension.Manager -> Executor
// path (spec §2 "Extension manager") has something concrete flowing
// through it. Production embedders register their own discoverer/
// middleware/acl/approval extensions into cli.Extensions the same way.
func registerExtensions() {
	cli.Extensions.Register(&callLoggingExtension{
		Base: extension.Base{ExtName: "call-logging", ExtKind: extension.KindMiddleware},
	})
}

// callLoggingExtension logs every call's module ID before execution. It
// implements executor.MiddlewareExtension.
type callLoggingExtension struct {
	extension.Base
}

func (e *callLoggingExtension) Middleware() middleware.Middleware {
	return middleware.BeforeMiddleware("call-logging", func(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error) {
		slog.InfoContext(ctx, "dispatching call", "module_id", moduleID)
		return inputs, nil
	})
}

var _ executor.MiddlewareExtension = (*callLoggingExtension)(nil)

// echoModule returns its inputs unchanged. Useful for exercising the
// pipeline (ACL, middleware, validation) without any real side effect.
type echoModule struct{}

func (echoModule) InputSchema() map[string]any  { return nil }
func (echoModule) OutputSchema() map[string]any { return nil }
func (echoModule) Description() string          { return "returns its inputs unchanged" }

func (echoModule) Execute(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
	return inputs, nil
}

// pingModule takes no inputs and reports a static health record.
type pingModule struct{}

func (pingModule) InputSchema() map[string]any  { return nil }
func (pingModule) OutputSchema() map[string]any { return nil }
func (pingModule) Description() string          { return "reports liveness" }

func (pingModule) Execute(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
	return core.Record{"status": "ok"}, nil
}
