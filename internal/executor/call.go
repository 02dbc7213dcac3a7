package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
	"github.com/dispatchkit/core/internal/middleware"
	"github.com/dispatchkit/core/internal/schema"
)

// Call drives inputs through the full ten-step pipeline (spec §4.1) and
// returns the module's (possibly middleware-transformed) output.
func (e *Executor) Call(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error) {
	child, err := deriveContext(moduleID, callCtx)
	if err != nil {
		return nil, err
	}

	if err := e.checkSafety(moduleID, child.CallChain()); err != nil {
		return nil, err.(*errs.Error).WithTraceID(child.TraceID())
	}

	mod, ok := e.registry.Get(moduleID)
	if !ok {
		return nil, errs.New(errs.CodeModuleNotFound, fmt.Sprintf("module %q is not registered", moduleID)).WithTraceID(child.TraceID())
	}

	if e.acl != nil {
		if !e.acl.Check(child.CallerID(), moduleID, child) {
			return nil, errs.New(errs.CodeACLDenied, fmt.Sprintf("caller %q is not permitted to call %q", callerOrExternal(child.CallerID()), moduleID)).WithTraceID(child.TraceID())
		}
	}

	effectiveInputs, err := e.runApprovalGate(ctx, moduleID, inputs, child)
	if err != nil {
		return nil, err
	}

	redacted, err := e.validateAndRedact(mod, effectiveInputs)
	if err != nil {
		return nil, err.(*errs.Error).WithTraceID(child.TraceID())
	}
	child.SetRedactedInputs(redacted)

	var executed []middleware.Middleware
	if e.mw != nil {
		var mwErr error
		effectiveInputs, executed, mwErr = e.mw.ExecuteBefore(ctx, moduleID, effectiveInputs, child)
		if mwErr != nil {
			return e.recoverOrFail(ctx, moduleID, effectiveInputs, mwErr, child, executed)
		}
	}

	output, execErr := e.executeWithTimeout(ctx, mod, effectiveInputs, child)
	if execErr != nil {
		return e.recoverOrFail(ctx, moduleID, effectiveInputs, execErr, child, executed)
	}

	if res, verr := e.validator.Validate(mod.OutputSchema(), output); verr == nil && !res.Valid {
		schemaErr := schemaValidationError(res)
		return e.recoverOrFail(ctx, moduleID, effectiveInputs, schemaErr, child, executed)
	} else if verr != nil {
		return e.recoverOrFail(ctx, moduleID, effectiveInputs, verr, child, executed)
	}

	if e.mw != nil {
		final, afterErr := e.mw.ExecuteAfter(ctx, moduleID, effectiveInputs, output, child, executed)
		if afterErr != nil {
			return e.recoverOrFail(ctx, moduleID, effectiveInputs, afterErr, child, executed)
		}
		output = final
	}

	return output, nil
}

// recoverOrFail implements spec §4.1's error-recovery policy: if any
// middleware had already executed, offer cause to their onError hooks in
// reverse order; the first recovery wins. A *middleware.ChainError is
// unwrapped to its underlying Cause before being offered or returned, so
// the internal wrapper never surfaces (spec §7 MIDDLEWARE_CHAIN_ERROR).
func (e *Executor) recoverOrFail(ctx context.Context, moduleID string, inputs core.Record, cause error, callCtx *core.Context, executed []middleware.Middleware) (core.Record, error) {
	original := cause
	if chainErr, ok := cause.(*middleware.ChainError); ok {
		original = chainErr.Cause
		executed = chainErr.Executed
	}

	if e.mw != nil && len(executed) > 0 {
		if result, recovered := e.mw.ExecuteOnError(ctx, moduleID, inputs, original, callCtx, executed); recovered {
			return result, nil
		}
	}

	if asErr, ok := original.(*errs.Error); ok {
		return nil, asErr.WithTraceID(callCtx.TraceID())
	}
	return nil, errs.Wrap(errs.CodeModuleExecuteError, original.Error(), original).WithTraceID(callCtx.TraceID())
}

// executeWithTimeout implements spec §4.1 step 8: a cancel-token check,
// then a race between the module's Execute and a timer. Zero timeout
// disables the timer.
func (e *Executor) executeWithTimeout(ctx context.Context, mod core.Module, inputs core.Record, callCtx *core.Context) (core.Record, error) {
	if callCtx.CancelToken().Cancelled() {
		return nil, errs.New(errs.CodeExecutionCancelled, "execution cancelled: "+callCtx.CancelToken().Reason())
	}

	if e.defaultTimeout == 0 {
		e.logger.WarnContext(ctx, "executor: timeout disabled for call", "module_id", callCtx.CallChain())
		return mod.Execute(ctx, inputs, callCtx)
	}

	type result struct {
		out core.Record
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := mod.Execute(ctx, inputs, callCtx)
		done <- result{out, err}
	}()

	timer := time.NewTimer(e.defaultTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.out, r.err
	case <-timer.C:
		return nil, errs.New(errs.CodeModuleTimeout, fmt.Sprintf("module execution exceeded %s", e.defaultTimeout))
	case <-ctx.Done():
		return nil, errs.Wrap(errs.CodeExecutionCancelled, "execution cancelled", ctx.Err())
	}
}

// validateAndRedact implements spec §4.1 step 6.
func (e *Executor) validateAndRedact(mod core.Module, inputs core.Record) (core.Record, error) {
	inputSchema := mod.InputSchema()
	if inputSchema != nil {
		res, err := e.validator.Validate(inputSchema, inputs)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, schemaValidationError(res)
		}
	}
	return schema.Redact(inputSchema, inputs), nil
}

func schemaValidationError(res schema.Result) *errs.Error {
	details := make([]errs.ValidationDetail, 0, len(res.Errors))
	for _, fe := range res.Errors {
		details = append(details, errs.ValidationDetail{Field: fe.Field, Code: fe.Code, Message: fe.Message})
	}
	e := errs.New(errs.CodeSchemaValidationError, "input or output failed schema validation")
	e.ValidationErrors = details
	return e
}

func callerOrExternal(callerID string) string {
	if callerID == "" {
		return "@external"
	}
	return callerID
}
