// Package attrs reads values back out of slog-style key/value slices.
package attrs

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	if v, ok := find(attrs, key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ExtractInt is ExtractString for int values. Returns 0 when missing.
func ExtractInt(attrs []any, key string) int {
	if v, ok := find(attrs, key); ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

// Replace returns a copy of attrs with the value for key passed through fn.
func Replace(attrs []any, key string, fn func(any) any) []any {
	out := make([]any, len(attrs))
	copy(out, attrs)
	for i := 0; i < len(out)-1; i += 2 {
		if k, ok := out[i].(string); ok && k == key {
			out[i+1] = fn(out[i+1])
		}
	}
	return out
}

func find(attrs []any, key string) (any, bool) {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			return attrs[i+1], true
		}
	}
	return nil, false
}
