// Package jsontree walks untyped JSON values defensively. Remote payloads
// in the wild carry numbers as floats or strings, booleans as strings,
// and objects where arrays were promised; every accessor here degrades to
// a zero value instead of failing.
package jsontree

import (
	"sort"
	"strconv"
	"strings"
)

// AsMap returns v as a JSON object, or nil.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsSlice returns v as a JSON array, or nil.
func AsSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// Get walks nested objects by key, returning nil as soon as the path
// breaks.
func Get(v any, keys ...string) any {
	current := v
	for _, key := range keys {
		m := AsMap(current)
		if m == nil {
			return nil
		}
		current = m[key]
	}
	return current
}

// String returns the string stored under key, or "".
func String(v any, key string) string {
	s, _ := Get(v, key).(string)
	return s
}

// Int coerces the value under key to a non-negative integer.
func Int(v any, key string) *int64 {
	return IntValue(Get(v, key))
}

// IntValue coerces a scalar to a non-negative integer. Floats are
// truncated, numeric strings parsed; negative values and everything else
// yield nil.
func IntValue(v any) *int64 {
	var number int64
	switch value := v.(type) {
	case float64:
		number = int64(value)
	case int:
		number = int64(value)
	case int64:
		number = value
	case string:
		trimmed := strings.TrimSpace(value)
		parsed, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			parsedFloat, ferr := strconv.ParseFloat(trimmed, 64)
			if ferr != nil {
				return nil
			}
			parsed = int64(parsedFloat)
		}
		number = parsed
	default:
		return nil
	}
	if number < 0 {
		return nil
	}
	return &number
}

// Bool coerces the value under key to a boolean.
func Bool(v any, key string) *bool {
	return BoolValue(Get(v, key))
}

// BoolValue accepts JSON booleans plus the usual scalar spellings
// ("true", "1", 1, ...); anything else yields nil.
func BoolValue(v any) *bool {
	switch value := v.(type) {
	case bool:
		b := value
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1":
			b := true
			return &b
		case "false", "0":
			b := false
			return &b
		}
	case float64:
		if value == 1 {
			b := true
			return &b
		}
		if value == 0 {
			b := false
			return &b
		}
	}
	return nil
}

// Strings flattens a value into its scalar string members: arrays are
// walked element-wise, objects contribute their values in key order,
// scalars convert directly. The result is deterministic for any input
// shape.
func Strings(v any) []string {
	var out []string
	collectStrings(v, &out)
	return out
}

func collectStrings(v any, out *[]string) {
	switch value := v.(type) {
	case string:
		*out = append(*out, value)
	case float64:
		*out = append(*out, strconv.FormatFloat(value, 'f', -1, 64))
	case []any:
		for _, item := range value {
			collectStrings(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			collectStrings(value[key], out)
		}
	}
}
