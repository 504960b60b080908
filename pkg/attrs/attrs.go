// Package attrs reads values back out of slog-style key/value argument lists.
package attrs

import "fmt"

// String returns the value logged under key, or "" when absent. Stringer
// values are rendered; other types are ignored.
func String(kv []any, key string) string {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, _ := kv[i].(string); k != key {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		}
		return ""
	}
	return ""
}

// First returns the first non-empty value among keys.
func First(kv []any, keys ...string) string {
	for _, key := range keys {
		if v := String(kv, key); v != "" {
			return v
		}
	}
	return ""
}
