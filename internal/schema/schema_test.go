package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidator_RequiredField(t *testing.T) {
	v := DefaultValidator{}
	schemaDef := map[string]any{
		"type":     "object",
		"required": []string{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}

	res, err := v.Validate(schemaDef, map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "name", res.Errors[0].Field)
	assert.Equal(t, "required", res.Errors[0].Code)
}

func TestDefaultValidator_TypeMismatch(t *testing.T) {
	v := DefaultValidator{}
	schemaDef := map[string]any{
		"properties": map[string]any{
			"age": map[string]any{"type": "integer"},
		},
	}

	res, err := v.Validate(schemaDef, map[string]any{"age": "not-a-number"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "type", res.Errors[0].Code)
}

func TestDefaultValidator_Passes(t *testing.T) {
	v := DefaultValidator{}
	schemaDef := map[string]any{
		"required": []string{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer"},
		},
	}

	res, err := v.Validate(schemaDef, map[string]any{"name": "World", "age": 30})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestRedact_SchemaDrivenField(t *testing.T) {
	schemaDef := map[string]any{
		"properties": map[string]any{
			"password": map[string]any{"type": "string", "x-sensitive": true},
			"username": map[string]any{"type": "string"},
		},
	}
	inputs := map[string]any{"password": "hunter2", "username": "alice"}

	redacted := Redact(schemaDef, inputs)

	assert.Equal(t, Redacted, redacted["password"])
	assert.Equal(t, "alice", redacted["username"])
	// original must be untouched
	assert.Equal(t, "hunter2", inputs["password"])
}

func TestRedact_NamePrefixFallback(t *testing.T) {
	inputs := map[string]any{
		"_secret_token": "abc123",
		"ok_field":      "visible",
		"nested": map[string]any{
			"_secret_inner": "deep-secret",
		},
	}

	redacted := Redact(nil, inputs)

	assert.Equal(t, Redacted, redacted["_secret_token"])
	assert.Equal(t, "visible", redacted["ok_field"])
	nested := redacted["nested"].(map[string]any)
	assert.Equal(t, Redacted, nested["_secret_inner"])

	// original untouched
	assert.Equal(t, "abc123", inputs["_secret_token"])
}

func TestRedact_NestedSchemaObjects(t *testing.T) {
	schemaDef := map[string]any{
		"properties": map[string]any{
			"user": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ssn": map[string]any{"type": "string", "x-sensitive": true},
				},
			},
		},
	}
	inputs := map[string]any{"user": map[string]any{"ssn": "123-45-6789", "name": "Bob"}}

	redacted := Redact(schemaDef, inputs)
	user := redacted["user"].(map[string]any)
	assert.Equal(t, Redacted, user["ssn"])
	assert.Equal(t, "Bob", user["name"])
}

func TestRedact_DoesNotMutateOriginalDeep(t *testing.T) {
	inputs := map[string]any{"list": []any{map[string]any{"_secret_x": "y"}}}
	redacted := Redact(nil, inputs)

	list := redacted["list"].([]any)
	item := list[0].(map[string]any)
	assert.Equal(t, Redacted, item["_secret_x"])

	origList := inputs["list"].([]any)
	origItem := origList[0].(map[string]any)
	assert.Equal(t, "y", origItem["_secret_x"])
}
