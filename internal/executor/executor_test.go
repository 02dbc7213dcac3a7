package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchkit/core/internal/acl"
	"github.com/dispatchkit/core/internal/approval"
	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/config"
	"github.com/dispatchkit/core/internal/core/errs"
	"github.com/dispatchkit/core/internal/middleware"
	"github.com/dispatchkit/core/internal/registry"
)

type stubModule struct {
	inputSchema  map[string]any
	outputSchema map[string]any
	description  string
	executeFn    func(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error)
	annotations  core.Annotations
}

func newStubModule() *stubModule {
	return &stubModule{
		description: "a stub module",
		executeFn: func(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
			return core.Record{"ok": true}, nil
		},
	}
}

func (s *stubModule) InputSchema() map[string]any  { return s.inputSchema }
func (s *stubModule) OutputSchema() map[string]any { return s.outputSchema }
func (s *stubModule) Description() string          { return s.description }
func (s *stubModule) Execute(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
	return s.executeFn(ctx, inputs, callCtx)
}
func (s *stubModule) ModuleAnnotations() core.Annotations { return s.annotations }

func newExecutor(t *testing.T, moduleID string, mod core.Module, descriptor core.ModuleDescriptor, opts ...Option) *Executor {
	t.Helper()
	reg := registry.New(nil)
	require.NoError(t, reg.Register(context.Background(), moduleID, mod, descriptor))
	ex, err := New(reg, opts...)
	require.NoError(t, err)
	return ex
}

func TestCall_HappyPath(t *testing.T) {
	mod := newStubModule()
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"})

	out, err := ex.Call(context.Background(), "demo.echo", core.Record{"x": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Record{"ok": true}, out)
}

func TestCall_ModuleNotFound(t *testing.T) {
	reg := registry.New(nil)
	ex, err := New(reg)
	require.NoError(t, err)

	_, callErr := ex.Call(context.Background(), "nope", core.Record{}, nil)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeModuleNotFound, errs.CodeOf(callErr))
}

func TestCall_ACLDenied(t *testing.T) {
	mod := newStubModule()
	a, err := acl.New(acl.Deny, nil)
	require.NoError(t, err)
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"}, WithACL(a))

	_, callErr := ex.Call(context.Background(), "demo.echo", core.Record{}, nil)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeACLDenied, errs.CodeOf(callErr))
}

func TestCall_InputSchemaValidationFailure(t *testing.T) {
	mod := newStubModule()
	mod.inputSchema = map[string]any{"required": []string{"amount"}}
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"})

	_, callErr := ex.Call(context.Background(), "demo.echo", core.Record{}, nil)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeSchemaValidationError, errs.CodeOf(callErr))
}

func TestCall_OutputSchemaValidationFailure(t *testing.T) {
	mod := newStubModule()
	mod.outputSchema = map[string]any{"required": []string{"missing_field"}}
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"})

	_, callErr := ex.Call(context.Background(), "demo.echo", core.Record{}, nil)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeSchemaValidationError, errs.CodeOf(callErr))
}

func TestCall_ModuleTimeout(t *testing.T) {
	mod := newStubModule()
	mod.executeFn = func(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
		time.Sleep(50 * time.Millisecond)
		return core.Record{"ok": true}, nil
	}
	ex := newExecutor(t, "demo.slow", mod, core.ModuleDescriptor{ModuleID: "demo.slow"}, WithDefaultTimeout(5*time.Millisecond))

	_, callErr := ex.Call(context.Background(), "demo.slow", core.Record{}, nil)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeModuleTimeout, errs.CodeOf(callErr))
}

func TestCall_CancelledBeforeExecution(t *testing.T) {
	mod := newStubModule()
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"})

	root, err := core.Create(core.CreateOptions{})
	require.NoError(t, err)
	root.CancelToken().Cancel("user requested stop")

	_, callErr := ex.Call(context.Background(), "demo.echo", core.Record{}, root)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeExecutionCancelled, errs.CodeOf(callErr))
}

func TestCall_DepthExceeded(t *testing.T) {
	mod := newStubModule()
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"}, WithMaxCallDepth(1))

	root, err := core.Create(core.CreateOptions{})
	require.NoError(t, err)
	deep := root.Child("outer")

	_, callErr := ex.Call(context.Background(), "demo.echo", core.Record{}, deep)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeCallDepthExceeded, errs.CodeOf(callErr))
}

func TestCall_FrequencyExceeded(t *testing.T) {
	mod := newStubModule()
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"}, WithMaxModuleRepeat(1), WithMaxCallDepth(100))

	root, err := core.Create(core.CreateOptions{})
	require.NoError(t, err)
	chain := root.Child("demo.echo").Child("demo.echo")

	_, callErr := ex.Call(context.Background(), "demo.echo", core.Record{}, chain)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeCallFrequencyExceeded, errs.CodeOf(callErr))
}

func TestCall_CircularCallDetected(t *testing.T) {
	mod := newStubModule()
	ex := newExecutor(t, "a", mod, core.ModuleDescriptor{ModuleID: "a"}, WithMaxModuleRepeat(10), WithMaxCallDepth(100))

	root, err := core.Create(core.CreateOptions{})
	require.NoError(t, err)
	chain := root.Child("a").Child("b")

	_, callErr := ex.Call(context.Background(), "a", core.Record{}, chain)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeCircularCall, errs.CodeOf(callErr))
}

func TestCall_ApprovalGate_PhaseARejected(t *testing.T) {
	mod := newStubModule()
	mod.annotations = core.Annotations{RequiresApproval: true}
	descriptor := core.ModuleDescriptor{ModuleID: "admin.delete", Annotations: core.Annotations{RequiresApproval: true}}
	ex := newExecutor(t, "admin.delete", mod, descriptor, WithApprovalHandler(approval.AlwaysDeny{}))

	_, callErr := ex.Call(context.Background(), "admin.delete", core.Record{}, nil)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeApprovalDenied, errs.CodeOf(callErr))
}

func TestCall_ApprovalGate_PhaseAPendingCarriesApprovalID(t *testing.T) {
	mod := newStubModule()
	descriptor := core.ModuleDescriptor{ModuleID: "admin.delete", Annotations: core.Annotations{RequiresApproval: true}}
	decider := approval.DeciderFunc(func(ctx context.Context, req *core.ApprovalRequest) (time.Duration, bool) {
		return time.Minute, false
	})
	handler := approval.NewPolicyHandler(decider, approval.ExpiryConfig{})
	defer handler.Close()
	ex := newExecutor(t, "admin.delete", mod, descriptor, WithApprovalHandler(handler))

	_, callErr := ex.Call(context.Background(), "admin.delete", core.Record{}, nil)
	require.Error(t, callErr)
	assert.Equal(t, errs.CodeApprovalPending, errs.CodeOf(callErr))

	var asErr *errs.Error
	require.True(t, errors.As(callErr, &asErr))
	assert.NotEmpty(t, asErr.ApprovalID)
}

func TestCall_ApprovalGate_PhaseBResume(t *testing.T) {
	mod := newStubModule()
	descriptor := core.ModuleDescriptor{ModuleID: "admin.delete", Annotations: core.Annotations{RequiresApproval: true}}
	decider := approval.DeciderFunc(func(ctx context.Context, req *core.ApprovalRequest) (time.Duration, bool) {
		return time.Minute, false
	})
	handler := approval.NewPolicyHandler(decider, approval.ExpiryConfig{})
	defer handler.Close()
	ex := newExecutor(t, "admin.delete", mod, descriptor, WithApprovalHandler(handler))

	_, callErr := ex.Call(context.Background(), "admin.delete", core.Record{}, nil)
	require.Error(t, callErr)
	var asErr *errs.Error
	require.True(t, errors.As(callErr, &asErr))
	token := asErr.ApprovalID

	require.True(t, handler.Resolve(token, true, "reviewer-1", "looks fine"))

	out, resumeErr := ex.Call(context.Background(), "admin.delete", core.Record{ReservedApprovalTokenKey: token}, nil)
	require.NoError(t, resumeErr)
	assert.Equal(t, core.Record{"ok": true}, out)
}

func TestCall_MiddlewareBeforeTransformsInputs(t *testing.T) {
	mod := newStubModule()
	mod.executeFn = func(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
		return core.Record{"seen": inputs["injected"]}, nil
	}
	mw := middleware.NewManager()
	mw.Use(middleware.BeforeMiddleware("inject", func(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error) {
		out := core.Record{}
		for k, v := range inputs {
			out[k] = v
		}
		out["injected"] = "yes"
		return out, nil
	}))
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"}, WithMiddleware(mw))

	out, err := ex.Call(context.Background(), "demo.echo", core.Record{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", out["seen"])
}

func TestCall_MiddlewareOnErrorRecovers(t *testing.T) {
	mod := newStubModule()
	mod.executeFn = func(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
		return nil, errors.New("downstream failure")
	}
	mw := middleware.NewManager()
	mw.Use(recoveringMiddleware{})
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"}, WithMiddleware(mw))

	out, err := ex.Call(context.Background(), "demo.echo", core.Record{}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Record{"recovered": true}, out)
}

type recoveringMiddleware struct{}

func (recoveringMiddleware) Name() string { return "recovering" }
func (recoveringMiddleware) OnError(ctx context.Context, moduleID string, inputs core.Record, cause error, callCtx *core.Context) (core.Record, error) {
	return core.Record{"recovered": true}, nil
}

func TestStream_NonStreamerModuleYieldsSingleChunk(t *testing.T) {
	mod := newStubModule()
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"})

	ch, err := ex.Stream(context.Background(), "demo.echo", core.Record{}, nil)
	require.NoError(t, err)

	var chunks []core.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 1)
	assert.NoError(t, chunks[0].Err)
	assert.Equal(t, core.Record{"ok": true}, chunks[0].Record)
}

type streamingModule struct {
	*stubModule
}

func (s streamingModule) Stream(ctx context.Context, inputs core.Record, callCtx *core.Context) (<-chan core.StreamChunk, error) {
	out := make(chan core.StreamChunk, 2)
	out <- core.StreamChunk{Record: core.Record{"part": 1}}
	out <- core.StreamChunk{Record: core.Record{"part": 2}}
	close(out)
	return out, nil
}

func TestStream_StreamerModuleYieldsMultipleChunks(t *testing.T) {
	base := newStubModule()
	mod := streamingModule{stubModule: base}
	ex := newExecutor(t, "demo.stream", mod, core.ModuleDescriptor{ModuleID: "demo.stream"})

	ch, err := ex.Stream(context.Background(), "demo.stream", core.Record{}, nil)
	require.NoError(t, err)

	var count int
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestValidate_LookupOnlyNoExecution(t *testing.T) {
	mod := newStubModule()
	mod.inputSchema = map[string]any{"required": []string{"amount"}}
	executed := false
	mod.executeFn = func(ctx context.Context, inputs core.Record, callCtx *core.Context) (core.Record, error) {
		executed = true
		return core.Record{}, nil
	}
	ex := newExecutor(t, "demo.echo", mod, core.ModuleDescriptor{ModuleID: "demo.echo"})

	res, err := ex.Validate("demo.echo", core.Record{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, executed)
}

func TestNew_RejectsNegativeTimeout(t *testing.T) {
	reg := registry.New(nil)
	_, err := New(reg, WithDefaultTimeout(-time.Second))
	require.Error(t, err)
	assert.Equal(t, errs.CodeGeneralInvalidInput, errs.CodeOf(err))
}

func TestWithConfig_AppliesRecognizedKeysAndFallsBackOnRest(t *testing.T) {
	reg := registry.New(nil)
	cfg := config.New(map[string]any{
		"executor": map[string]any{
			"max_call_depth": 5,
			// max_module_repeat intentionally omitted: must keep the default.
		},
	})

	ex, err := New(reg, WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, 5, ex.maxCallDepth)
	assert.Equal(t, DefaultMaxModuleRepeat, ex.maxModuleRepeat)
}

func TestWithConfig_ExplicitOptionAfterItWins(t *testing.T) {
	reg := registry.New(nil)
	cfg := config.New(map[string]any{
		"executor": map[string]any{"max_call_depth": 5},
	})

	ex, err := New(reg, WithConfig(cfg), WithMaxCallDepth(9))
	require.NoError(t, err)
	assert.Equal(t, 9, ex.maxCallDepth)
}
