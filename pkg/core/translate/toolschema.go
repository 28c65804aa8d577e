package translate

import "strings"

// JSON-schema type tokens differ only in case between the two dialects:
// OpenAI uses lowercase ("object", "string"), Gemini uppercase
// ("OBJECT", "STRING"). The walk rewrites every `type` string it finds,
// recursing through properties, items and any other nesting; unknown
// keys pass through untouched.

func UpperSchemaTypes(schema map[string]any) map[string]any {
	out, _ := mapSchemaTypes(schema, strings.ToUpper).(map[string]any)
	return out
}

func LowerSchemaTypes(schema map[string]any) map[string]any {
	out, _ := mapSchemaTypes(schema, strings.ToLower).(map[string]any)
	return out
}

func mapSchemaTypes(v any, f func(string) string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if k == "type" {
				if s, ok := item.(string); ok {
					out[k] = f(s)
					continue
				}
			}
			out[k] = mapSchemaTypes(item, f)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = mapSchemaTypes(item, f)
		}
		return out
	default:
		return v
	}
}
