package structured

import (
	"fmt"
	"strconv"
	"strings"
)

// String returns m[key] as trimmed text; numbers and bools are formatted,
// everything else yields "".
func String(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	return AsString(m[key])
}

// AsString formats scalar JSON values as text.
func AsString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Map returns m[key] when it is an object.
func Map(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Slice returns m[key] when it is an array.
func Slice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}

// Strings returns the non-empty scalar items of m[key].
func Strings(m map[string]any, key string) []string {
	items := Slice(m, key)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := AsString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Bool reads m[key] as a boolean, accepting "true"/"false" strings.
func Bool(m map[string]any, key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}

// Int reads v as an integer from a JSON number or a numeric string.
func Int(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

// Truncate returns at most n items of s.
func Truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
