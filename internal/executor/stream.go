package executor

import (
	"context"
	"fmt"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
	"github.com/dispatchkit/core/internal/middleware"
	"github.com/dispatchkit/core/internal/schema"
)

// Stream drives inputs through the same pipeline as Call up through
// middleware-before, then iterates the module's Streamer.Stream instead of
// a single Execute, accumulating chunks into one Record. Modules that
// don't implement Streamer fall back to a single Execute call (spec §4.1
// "Streaming variant"). The accumulated output is validated and passed
// through middleware-after for side effects only; its return value is
// discarded, since the stream has already been delivered to the caller
// chunk by chunk by the time after-hooks run.
func (e *Executor) Stream(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (<-chan core.StreamChunk, error) {
	child, err := deriveContext(moduleID, callCtx)
	if err != nil {
		return nil, err
	}

	if safetyErr := e.checkSafety(moduleID, child.CallChain()); safetyErr != nil {
		return nil, safetyErr.(*errs.Error).WithTraceID(child.TraceID())
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
			recovered, failErr := e.recoverOrFail(ctx, moduleID, effectiveInputs, mwErr, child, executed)
			if failErr != nil {
				return nil, failErr
			}
			out := make(chan core.StreamChunk, 1)
			out <- core.StreamChunk{Record: recovered}
			close(out)
			return out, nil
		}
	}

	out := make(chan core.StreamChunk)
	go e.runStream(ctx, moduleID, mod, effectiveInputs, child, executed, out)
	return out, nil
}

// runStream owns the producer side of the channel returned by Stream: it
// collects chunks (or runs a single Execute for non-streaming modules),
// forwards each chunk to the caller as it arrives, then validates the
// accumulated Record and runs after-middleware once the source is
// exhausted.
func (e *Executor) runStream(ctx context.Context, moduleID string, mod core.Module, inputs core.Record, callCtx *core.Context, executed []middleware.Middleware, out chan<- core.StreamChunk) {
	defer close(out)

	streamer, isStreamer := mod.(core.Streamer)
	accumulated := core.Record{}

	emitFailure := func(cause error) bool {
		recovered, failErr := e.recoverOrFail(ctx, moduleID, inputs, cause, callCtx, executed)
		if failErr != nil {
			out <- core.StreamChunk{Err: failErr}
			return true
		}
		out <- core.StreamChunk{Record: recovered}
		return true
	}

	if !isStreamer {
		output, err := e.executeWithTimeout(ctx, mod, inputs, callCtx)
		if err != nil {
			emitFailure(err)
			return
		}
		accumulated = output
		out <- core.StreamChunk{Record: output}
	} else {
		chunks, err := streamer.Stream(ctx, inputs, callCtx)
		if err != nil {
			emitFailure(err)
			return
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				emitFailure(chunk.Err)
				return
			}
			for k, v := range chunk.Record {
				accumulated[k] = v
			}
			out <- chunk
		}
	}

	if res, verr := e.validator.Validate(mod.OutputSchema(), accumulated); verr == nil && !res.Valid {
		emitFailure(schemaValidationError(res))
		return
	} else if verr != nil {
		emitFailure(verr)
		return
	}

	if e.mw != nil {
		if _, afterErr := e.mw.ExecuteAfter(ctx, moduleID, inputs, accumulated, callCtx, executed); afterErr != nil {
			emitFailure(afterErr)
		}
	}
}

// Validate runs step 6's schema check in isolation, with no execution,
// middleware or approval side effects: useful for a dry-run /validate
// endpoint (spec §4.1 "Validate-only variant").
func (e *Executor) Validate(moduleID string, inputs core.Record) (schema.Result, error) {
	mod, ok := e.registry.Get(moduleID)
	if !ok {
		return schema.Result{}, errs.New(errs.CodeModuleNotFound, fmt.Sprintf("module %q is not registered", moduleID))
	}
	inputSchema := mod.InputSchema()
	if inputSchema == nil {
		return schema.Result{Valid: true}, nil
	}
	return e.validator.Validate(inputSchema, inputs)
}
