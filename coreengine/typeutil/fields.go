// Package typeutil reads typed values out of decoded JSON objects.
//
// Payloads crossing the runner and gRPC boundaries arrive as
// map[string]any, where numbers are float64 and lists are []any. The
// helpers here use the comma-ok idiom so malformed payloads never panic.
package typeutil

import (
	"encoding/json"
	"math"
	"strings"
)

// Object is a decoded JSON object.
type Object = map[string]any

// String returns m[key] when it is a string.
func String(m Object, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// StringOr returns m[key] when it is a string, else def.
func StringOr(m Object, key, def string) string {
	if s, ok := String(m, key); ok {
		return s
	}
	return def
}

// Bool returns m[key] when it is a bool.
func Bool(m Object, key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// Int64 returns m[key] as an integer. JSON numbers must be integral.
func Int64(m Object, key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Int returns m[key] as an int. See Int64.
func Int(m Object, key string) (int, bool) {
	i, ok := Int64(m, key)
	return int(i), ok
}

// Objects returns m[key] when it is a list of objects. Any other element
// type fails the whole list.
func Objects(m Object, key string) ([]Object, bool) {
	raw, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]Object, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, obj)
	}
	return out, true
}

// Strings returns m[key] when it is a list of strings.
func Strings(m Object, key string) ([]string, bool) {
	switch v := m[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Lookup follows a dot-separated path through nested objects.
func Lookup(m Object, path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return current, true
}
