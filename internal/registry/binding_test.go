package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
)

func writeBindingFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegisterBindings_ResolvesCallableAndRegistersModule(t *testing.T) {
	dir := t.TempDir()
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "billing.charge:mk.charge"
`)

	fns := NewFunctionRegistry()
	fns.Register("mk.charge", func() (core.Module, error) { return newFakeModule(), nil })

	r := New(fns)
	n, err := r.RegisterBindings(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, r.Has("billing.charge"))
}

func TestRegisterBindings_RejectsFileURLTarget(t *testing.T) {
	dir := t.TempDir()
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "file:///etc/passwd:mk.charge"
`)

	fns := NewFunctionRegistry()
	r := New(fns)
	_, err := r.RegisterBindings(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeBindingInvalidTarget))
}

func TestRegisterBindings_RejectsDotDotSegmentTarget(t *testing.T) {
	dir := t.TempDir()
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "../../etc:mk.charge"
`)

	fns := NewFunctionRegistry()
	r := New(fns)
	_, err := r.RegisterBindings(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeBindingInvalidTarget))
}

func TestRegisterBindings_UnknownCallableIsModuleNotFound(t *testing.T) {
	dir := t.TempDir()
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "billing.charge:mk.missing"
`)

	fns := NewFunctionRegistry()
	r := New(fns)
	_, err := r.RegisterBindings(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeBindingModuleNotFound))
}

func TestRegisterBindings_UsesPermissiveSchemaWhenNoneDeclared(t *testing.T) {
	dir := t.TempDir()
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "billing.charge:mk.charge"
`)

	fns := NewFunctionRegistry()
	fns.Register("mk.charge", func() (core.Module, error) { return newFakeModule(), nil })

	r := New(fns)
	_, err := r.RegisterBindings(context.Background(), path)
	require.NoError(t, err)

	def, ok := r.GetDefinition("billing.charge")
	require.True(t, ok)
	assert.Equal(t, permissiveSchema, def.InputSchema)
	assert.Equal(t, permissiveSchema, def.OutputSchema)
}

func TestRegisterBindings_InlineSchemaOverridesPermissiveDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "billing.charge:mk.charge"
    input_schema:
      type: object
      required: [amount]
    output_schema:
      type: object
`)

	fns := NewFunctionRegistry()
	fns.Register("mk.charge", func() (core.Module, error) { return newFakeModule(), nil })

	r := New(fns)
	_, err := r.RegisterBindings(context.Background(), path)
	require.NoError(t, err)

	def, ok := r.GetDefinition("billing.charge")
	require.True(t, ok)
	assert.Equal(t, []any{"amount"}, def.InputSchema["required"])
}

func TestRegisterBindings_SchemaRefResolvesSiblingFile(t *testing.T) {
	dir := t.TempDir()
	writeBindingFile(t, dir, "charge.schema.yaml", `
input_schema:
  type: object
  required: [amount]
output_schema:
  type: object
`)
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "billing.charge:mk.charge"
    schema_ref: charge.schema.yaml
`)

	fns := NewFunctionRegistry()
	fns.Register("mk.charge", func() (core.Module, error) { return newFakeModule(), nil })

	r := New(fns)
	_, err := r.RegisterBindings(context.Background(), path)
	require.NoError(t, err)

	def, ok := r.GetDefinition("billing.charge")
	require.True(t, ok)
	assert.Equal(t, []any{"amount"}, def.InputSchema["required"])
}

func TestRegisterBindings_MissingSchemaRefFileIsSchemaMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeBindingFile(t, dir, "bindings.yaml", `
bindings:
  - module_id: billing.charge
    target: "billing.charge:mk.charge"
    schema_ref: nowhere.yaml
`)

	fns := NewFunctionRegistry()
	fns.Register("mk.charge", func() (core.Module, error) { return newFakeModule(), nil })

	r := New(fns)
	_, err := r.RegisterBindings(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeBindingSchemaMissing))
}
