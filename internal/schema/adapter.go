// Package schema adapts the external schema-validation engine collaborator
// (spec §1 Out-of-scope, §4.1 step 6) to dispatch's internal Record shape,
// and implements the sensitive-field redactor (spec §4, "Redactor") that
// sits downstream of it.
//
// dispatch does not mandate a validation engine: Validator is the seam.
// DefaultValidator is a small structural engine good enough for tests and
// simple deployments; production callers plug in a real JSON-Schema
// engine by implementing Validator themselves.
package schema

import (
	"fmt"
	"sort"
)

// FieldError is one structured validation failure (spec §4.1 step 6:
// "{field, code, message}").
type FieldError struct {
	Field   string
	Code    string
	Message string
}

// Result is the outcome of validating a value against a schema.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// Validator validates a value against a schema. Schemas and values are
// both represented as map[string]any (decoded JSON/YAML), matching how
// module descriptors carry InputSchema/OutputSchema.
type Validator interface {
	Validate(schema map[string]any, value map[string]any) (Result, error)
}

// DefaultValidator is a minimal structural validator: it checks
// "required" fields are present and, where a property declares a
// "type", that the value's dynamic type is compatible. It understands
// "object", "string", "number", "integer", "boolean", "array".
//
// It does not implement the full JSON-Schema vocabulary (no $ref, no
// combinators, no format validators) — see DESIGN.md for why no
// off-the-shelf dependency from the retrieved corpus was wired here
// instead.
type DefaultValidator struct{}

// Validate implements Validator.
func (DefaultValidator) Validate(schemaDef map[string]any, value map[string]any) (Result, error) {
	res := Result{Valid: true}

	props, _ := schemaDef["properties"].(map[string]any)
	required, _ := schemaDef["required"].([]string)
	if required == nil {
		if ri, ok := schemaDef["required"].([]any); ok {
			for _, r := range ri {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}

	for _, field := range required {
		if _, ok := value[field]; !ok {
			res.Valid = false
			res.Errors = append(res.Errors, FieldError{
				Field:   field,
				Code:    "required",
				Message: fmt.Sprintf("field %q is required", field),
			})
		}
	}

	fields := make([]string, 0, len(props))
	for field := range props {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		propDef, ok := props[field].(map[string]any)
		if !ok {
			continue
		}
		v, present := value[field]
		if !present {
			continue
		}
		wantType, _ := propDef["type"].(string)
		if wantType == "" {
			continue
		}
		if !typeMatches(wantType, v) {
			res.Valid = false
			res.Errors = append(res.Errors, FieldError{
				Field:   field,
				Code:    "type",
				Message: fmt.Sprintf("field %q must be of type %s", field, wantType),
			})
		}
	}

	return res, nil
}

func typeMatches(want string, v any) bool {
	switch want {
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		switch v.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch v.(type) {
		case int, int64:
			return true
		case float64:
			f := v.(float64)
			return f == float64(int64(f))
		}
		return false
	case "number":
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	default:
		return true
	}
}
