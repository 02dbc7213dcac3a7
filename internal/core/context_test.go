package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_GeneratesUUIDTraceID(t *testing.T) {
	ctx, err := Create(CreateOptions{})
	require.NoError(t, err)
	assert.Len(t, ctx.TraceID(), 36)
	assert.Empty(t, ctx.CallChain())
}

func TestCreate_FromTraceparent_UsesItsTraceID(t *testing.T) {
	ctx, err := Create(CreateOptions{
		TraceParent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "4bf92f35-77b3-4da6-a3ce-929d0e0e4736", ctx.TraceID())
}

func TestCreate_InvalidTraceparentErrors(t *testing.T) {
	_, err := Create(CreateOptions{TraceParent: "garbage"})
	assert.Error(t, err)
}

func TestChild_AppendsToCallChain(t *testing.T) {
	root, err := Create(CreateOptions{})
	require.NoError(t, err)

	a := root.Child("a")
	assert.Equal(t, []string{"a"}, a.CallChain())
	assert.Equal(t, "", a.CallerID())

	b := a.Child("b")
	assert.Equal(t, []string{"a", "b"}, b.CallChain())
	assert.Equal(t, "a", b.CallerID())
}

func TestChild_SharesTraceIDAcrossLevels(t *testing.T) {
	root, err := Create(CreateOptions{})
	require.NoError(t, err)
	a := root.Child("a")
	b := a.Child("b")
	assert.Equal(t, root.TraceID(), a.TraceID())
	assert.Equal(t, root.TraceID(), b.TraceID())
}

func TestChild_SharesDataMapByReference(t *testing.T) {
	root, err := Create(CreateOptions{})
	require.NoError(t, err)
	a := root.Child("a")
	b := a.Child("b")

	b.DataSet("_span", "xyz")

	v, ok := root.DataGet("_span")
	require.True(t, ok, "parent must see a write from a grandchild context")
	assert.Equal(t, "xyz", v)

	v, ok = a.DataGet("_span")
	require.True(t, ok)
	assert.Equal(t, "xyz", v)
}

func TestChild_SharesCancelToken(t *testing.T) {
	root, err := Create(CreateOptions{})
	require.NoError(t, err)
	a := root.Child("a")

	a.CancelToken().Cancel("timeout")
	assert.True(t, root.CancelToken().Cancelled())
}

func TestRedactedInputs_IsLocalPerLevel(t *testing.T) {
	root, err := Create(CreateOptions{})
	require.NoError(t, err)
	a := root.Child("a")
	b := a.Child("b")

	a.SetRedactedInputs(map[string]any{"x": 1})
	assert.Nil(t, b.RedactedInputs(), "a child must start with no redacted inputs of its own")
	assert.NotNil(t, a.RedactedInputs())
}

func TestDataPublic_StripsUnderscorePrefixedKeys(t *testing.T) {
	root, err := Create(CreateOptions{})
	require.NoError(t, err)
	root.DataSet("_internal", "secret")
	root.DataSet("visible", "ok")

	pub := root.DataPublic()
	assert.NotContains(t, pub, "_internal")
	assert.Equal(t, "ok", pub["visible"])
}

func TestPushPopSpan(t *testing.T) {
	root, err := Create(CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "", root.CurrentSpanID())
	root.PushSpan("span-1")
	root.PushSpan("span-2")
	assert.Equal(t, "span-2", root.CurrentSpanID())

	top, ok := root.PopSpan()
	require.True(t, ok)
	assert.Equal(t, "span-2", top)
	assert.Equal(t, "span-1", root.CurrentSpanID())
}

func TestIdentity_RolesAndAttrsAreFrozen(t *testing.T) {
	roles := []string{"admin"}
	attrs := map[string]any{"k": "v"}
	id := NewIdentity("u1", "", roles, attrs)

	assert.Equal(t, "user", id.Type(), "type defaults to user")
	assert.True(t, id.HasRole("admin"))
	assert.True(t, id.HasAnyRole([]string{"nobody", "admin"}))
	assert.False(t, id.HasAnyRole([]string{"nobody"}))

	// Mutating the caller's original slices/maps must not reach the identity.
	roles[0] = "mutated"
	attrs["k"] = "mutated"

	assert.True(t, id.HasRole("admin"))
	v, _ := id.Attr("k")
	assert.Equal(t, "v", v)
}
