package errs

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsRetryableFromCode(t *testing.T) {
	e := New(CodeModuleTimeout, "timed out")
	assert.True(t, e.Retryable)

	e2 := New(CodeModuleNotFound, "nope")
	assert.False(t, e2.Retryable)
}

func TestWrap_SetsCause(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(CodeGeneralInternalError, "wrapped", cause)
	require.ErrorIs(t, e, cause)
	assert.Equal(t, cause, e.Unwrap())
}

func TestError_Is_ComparesByCode(t *testing.T) {
	a := New(CodeACLDenied, "denied here")
	b := New(CodeACLDenied, "denied elsewhere")
	c := New(CodeModuleNotFound, "missing")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestHasCode(t *testing.T) {
	e := New(CodeCircularCall, "cycle")
	assert.True(t, HasCode(e, CodeCircularCall))
	assert.False(t, HasCode(e, CodeCallDepthExceeded))
	assert.False(t, HasCode(errors.New("plain"), CodeCircularCall))
}

func TestMarshalJSON_OmitsAbsentFields(t *testing.T) {
	e := New(CodeModuleNotFound, "module \"x\" not found")
	e.TraceID = "" // absent on purpose

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Equal(t, "MODULE_NOT_FOUND", m["code"])
	assert.NotContains(t, m, "trace_id")
	assert.NotContains(t, m, "retryable") // false and omitempty on *bool
	assert.NotContains(t, m, "cause")
	assert.NotContains(t, m, "approval_id")
}

func TestMarshalJSON_IncludesPresentFields(t *testing.T) {
	e := New(CodeApprovalPending, "awaiting approval").WithTraceID("trace-1")
	e.ApprovalID = "tok-1"
	e.WithDetails(map[string]any{"module_id": "admin.delete_user"})

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Equal(t, "trace-1", m["trace_id"])
	assert.Equal(t, "tok-1", m["approval_id"])
	assert.Equal(t, "admin.delete_user", m["details"].(map[string]any)["module_id"])
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeModuleTimeout, CodeOf(New(CodeModuleTimeout, "x")))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}
