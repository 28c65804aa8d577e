package events

// Payload helpers. Vendor payloads are nested map[string]any trees
// decoded from JSON; these accessors read a dotted path without
// panicking on missing or mistyped fields.

// MapAt walks keys and returns the nested map at the end of the path.
func MapAt(m map[string]any, keys ...string) (map[string]any, bool) {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// StringAt returns the string at the end of the path, or "".
func StringAt(m map[string]any, keys ...string) string {
	if len(keys) == 0 {
		return ""
	}
	parent := m
	if len(keys) > 1 {
		var ok bool
		parent, ok = MapAt(m, keys[:len(keys)-1]...)
		if !ok {
			return ""
		}
	}
	s, _ := parent[keys[len(keys)-1]].(string)
	return s
}

// SliceAt returns the array at the end of the path.
func SliceAt(m map[string]any, keys ...string) ([]any, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	parent := m
	if len(keys) > 1 {
		var ok bool
		parent, ok = MapAt(m, keys[:len(keys)-1]...)
		if !ok {
			return nil, false
		}
	}
	arr, ok := parent[keys[len(keys)-1]].([]any)
	return arr, ok
}

// Has reports whether the path exists at all, whatever its type.
func Has(m map[string]any, keys ...string) bool {
	if len(keys) == 0 {
		return false
	}
	parent := m
	if len(keys) > 1 {
		var ok bool
		parent, ok = MapAt(m, keys[:len(keys)-1]...)
		if !ok {
			return false
		}
	}
	_, ok := parent[keys[len(keys)-1]]
	return ok
}

// CloneMap deep-copies a JSON-shaped tree. Scalars are shared (they are
// immutable); maps and slices are copied.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
