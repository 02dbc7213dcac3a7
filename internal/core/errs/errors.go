// Package errs defines the structured error taxonomy shared by every
// dispatch component: executor, registry, acl, middleware and approval all
// return *Error values so callers can branch on Code rather than parsing
// message strings.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Code identifies an error category. Stable across versions; see spec §7.
type Code string

const (
	CodeModuleNotFound     Code = "MODULE_NOT_FOUND"
	CodeModuleLoadError    Code = "MODULE_LOAD_ERROR"
	CodeModuleExecuteError Code = "MODULE_EXECUTE_ERROR"
	CodeModuleTimeout      Code = "MODULE_TIMEOUT"

	CodeSchemaValidationError Code = "SCHEMA_VALIDATION_ERROR"
	CodeSchemaNotFound        Code = "SCHEMA_NOT_FOUND"
	CodeSchemaParseError      Code = "SCHEMA_PARSE_ERROR"
	CodeSchemaCircularRef     Code = "SCHEMA_CIRCULAR_REF"

	CodeCallDepthExceeded     Code = "CALL_DEPTH_EXCEEDED"
	CodeCircularCall          Code = "CIRCULAR_CALL"
	CodeCallFrequencyExceeded Code = "CALL_FREQUENCY_EXCEEDED"

	CodeACLDenied    Code = "ACL_DENIED"
	CodeACLRuleError Code = "ACL_RULE_ERROR"

	CodeApprovalDenied  Code = "APPROVAL_DENIED"
	CodeApprovalTimeout Code = "APPROVAL_TIMEOUT"
	CodeApprovalPending Code = "APPROVAL_PENDING"

	CodeCircularDependency Code = "CIRCULAR_DEPENDENCY"
	CodeConfigNotFound     Code = "CONFIG_NOT_FOUND"
	CodeConfigInvalid      Code = "CONFIG_INVALID"

	CodeBindingInvalidTarget  Code = "BINDING_INVALID_TARGET"
	CodeBindingModuleNotFound Code = "BINDING_MODULE_NOT_FOUND"
	CodeBindingCallableNotFound Code = "BINDING_CALLABLE_NOT_FOUND"
	CodeBindingNotCallable    Code = "BINDING_NOT_CALLABLE"
	CodeBindingSchemaMissing  Code = "BINDING_SCHEMA_MISSING"
	CodeBindingFileInvalid    Code = "BINDING_FILE_INVALID"

	CodeGeneralInvalidInput   Code = "GENERAL_INVALID_INPUT"
	CodeGeneralInternalError  Code = "GENERAL_INTERNAL_ERROR"

	CodeExecutionCancelled Code = "EXECUTION_CANCELLED"
)

// retryable reports the default retryability for a code. Callers may
// override it by setting Retryable on the Error that New returns.
var retryable = map[Code]bool{
	CodeModuleTimeout:   true,
	CodeApprovalTimeout: true,
	CodeGeneralInternalError: true,
}

// ValidationDetail is one structured validation failure (spec §4.1 step 6).
type ValidationDetail struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is the structured error every dispatch component returns.
//
// Error never carries raw sensitive inputs: callers that attach Details
// derived from call inputs must redact them first (see schema.Redact).
type Error struct {
	Code       Code
	Message    string
	Details    map[string]any
	Cause      error
	TraceID    string
	Timestamp  time.Time
	Retryable  bool
	AIGuidance string
	UserFixable *bool
	Suggestion string

	// ApprovalID carries the resumable token for CodeApprovalPending.
	ApprovalID string
	// CallChain carries the offending chain for depth/cycle/frequency errors.
	CallChain []string
	// ValidationErrors carries field-level detail for schema errors.
	ValidationErrors []ValidationDetail
}

// New builds an Error with the code's default retryability and the current
// timestamp.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Retryable: retryable[code],
	}
}

// Wrap builds an Error that chains an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithTraceID returns a copy of e with TraceID set.
func (e *Error) WithTraceID(traceID string) *Error {
	c := *e
	c.TraceID = traceID
	return &c
}

// WithDetails merges kv into e.Details, returning e for chaining.
func (e *Error) WithDetails(kv map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		e.Details[k] = v
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s: %s (trace=%s)", e.Code, e.Message, e.TraceID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes Cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// wireError is the JSON shape from spec §6. Absent/null fields are omitted.
type wireError struct {
	Code             Code               `json:"code"`
	Message          string             `json:"message"`
	Details          map[string]any     `json:"details,omitempty"`
	Cause            string             `json:"cause,omitempty"`
	TraceID          string             `json:"trace_id,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
	Retryable        *bool              `json:"retryable,omitempty"`
	AIGuidance       string             `json:"ai_guidance,omitempty"`
	UserFixable      *bool              `json:"user_fixable,omitempty"`
	Suggestion       string             `json:"suggestion,omitempty"`
	ApprovalID       string             `json:"approval_id,omitempty"`
	CallChain        []string           `json:"call_chain,omitempty"`
	ValidationErrors []ValidationDetail `json:"validation_errors,omitempty"`
}

// MarshalJSON implements the spec §6 wire shape.
func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{
		Code:             e.Code,
		Message:          e.Message,
		Details:          e.Details,
		TraceID:          e.TraceID,
		Timestamp:        e.Timestamp,
		AIGuidance:       e.AIGuidance,
		UserFixable:      e.UserFixable,
		Suggestion:       e.Suggestion,
		ApprovalID:       e.ApprovalID,
		CallChain:        e.CallChain,
		ValidationErrors: e.ValidationErrors,
	}
	if e.Retryable {
		w.Retryable = &e.Retryable
	}
	if e.Cause != nil {
		w.Cause = e.Cause.Error()
	}
	return json.Marshal(w)
}

// Is supports errors.Is(err, errs.New(code, "")) comparing by Code only.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the Code from err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err (or anything it wraps) is an *Error with code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
