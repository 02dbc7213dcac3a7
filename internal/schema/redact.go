package schema

// Redacted is the literal that replaces any sensitive value (spec §8).
const Redacted = "***REDACTED***"

// secretPrefix marks name-based fallback redaction, independent of any
// schema annotation (spec §9 "belt-and-braces fallback").
const secretPrefix = "_secret_"

// Redact walks value against schemaDef, returning a deep copy with every
// field schemaDef marks "x-sensitive": true replaced by Redacted, plus
// every key (at any nesting level) starting with "_secret_" replaced the
// same way. value itself is never mutated (spec invariant).
//
// The schema-driven pass runs first; the name-based pass always runs
// afterward on the same copy, so a field can be caught by either rule.
func Redact(schemaDef map[string]any, value map[string]any) map[string]any {
	copied := deepCopyRecord(value)
	redactBySchema(schemaDef, copied)
	redactByName(copied)
	return copied
}

func redactBySchema(schemaDef map[string]any, value map[string]any) {
	if schemaDef == nil {
		return
	}
	props, _ := schemaDef["properties"].(map[string]any)
	for field, rawPropDef := range props {
		propDef, ok := rawPropDef.(map[string]any)
		if !ok {
			continue
		}
		v, present := value[field]
		if !present || v == nil {
			continue
		}
		if sensitive, _ := propDef["x-sensitive"].(bool); sensitive {
			value[field] = Redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if nestedSchema, ok := propDef["properties"].(map[string]any); ok {
				redactBySchema(map[string]any{"properties": nestedSchema}, nested)
			}
		}
	}
}

func redactByName(value map[string]any) {
	for k, v := range value {
		if len(k) >= len(secretPrefix) && k[:len(secretPrefix)] == secretPrefix {
			if v != nil {
				value[k] = Redacted
			}
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			redactByName(nested)
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if nested, ok := item.(map[string]any); ok {
					redactByName(nested)
				}
			}
		}
	}
}

func deepCopyRecord(value map[string]any) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
