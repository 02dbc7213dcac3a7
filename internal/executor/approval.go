package executor

import (
	"context"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
)

// runApprovalGate implements spec §4.1 step 5. Modules not flagged
// requires-approval, or with no handler configured, pass straight through
// with inputs unchanged. Flagged modules are routed to phase A
// (RequestApproval) unless the reserved ReservedApprovalTokenKey input is
// present, in which case they resume via phase B (CheckApproval). The
// reserved key is stripped from the inputs forwarded downstream either way.
func (e *Executor) runApprovalGate(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error) {
	descriptor, _ := e.registry.GetDefinition(moduleID)
	if !descriptor.Annotations.RequiresApproval || e.approvalH == nil {
		return inputs, nil
	}

	token, resuming := inputs[ReservedApprovalTokenKey].(string)
	cleaned := stripApprovalToken(inputs)

	if resuming && token != "" {
		result, err := e.approvalH.CheckApproval(ctx, token)
		if err != nil {
			return nil, errs.Wrap(errs.CodeApprovalDenied, "approval check failed", err).WithTraceID(callCtx.TraceID())
		}
		return cleaned, e.approvalOutcome(result, callCtx)
	}

	req := &core.ApprovalRequest{
		ModuleID:    moduleID,
		Arguments:   cleaned,
		Context:     callCtx,
		Annotations: descriptor.Annotations,
		Description: descriptor.Description,
		Tags:        descriptor.Tags,
	}
	result, err := e.approvalH.RequestApproval(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeApprovalDenied, "approval request failed", err).WithTraceID(callCtx.TraceID())
	}
	return cleaned, e.approvalOutcome(result, callCtx)
}

// approvalOutcome maps an ApprovalResult onto the pipeline's control flow:
// only ApprovalApproved lets the call proceed. Every other status, known or
// not, is treated as blocking (spec §4.5 "unknown status: treat as denied,
// log a warning").
func (e *Executor) approvalOutcome(result *core.ApprovalResult, callCtx *core.Context) error {
	switch result.Status {
	case core.ApprovalApproved:
		return nil
	case core.ApprovalRejected:
		return errs.New(errs.CodeApprovalDenied, result.Reason).WithTraceID(callCtx.TraceID())
	case core.ApprovalTimeout:
		return errs.New(errs.CodeApprovalTimeout, "approval request timed out").WithTraceID(callCtx.TraceID())
	case core.ApprovalPending:
		pending := errs.New(errs.CodeApprovalPending, "awaiting approval")
		pending.ApprovalID = result.ApprovalID
		return pending.WithTraceID(callCtx.TraceID())
	default:
		e.logger.Warn("unrecognized approval status treated as denied", "status", string(result.Status), "trace_id", callCtx.TraceID())
		denied := errs.New(errs.CodeApprovalDenied, "unrecognized approval status treated as denied")
		denied.Details = map[string]any{"status": string(result.Status)}
		return denied.WithTraceID(callCtx.TraceID())
	}
}

func stripApprovalToken(inputs core.Record) core.Record {
	if _, ok := inputs[ReservedApprovalTokenKey]; !ok {
		return inputs
	}
	cleaned := make(core.Record, len(inputs)-1)
	for k, v := range inputs {
		if k == ReservedApprovalTokenKey {
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}
