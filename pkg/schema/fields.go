package schema

import (
	"fmt"
	"strings"
)

// FirstAlias scans an ordered list of historical field spellings against a
// raw document map and returns the first non-empty value, trimmed. Older
// documents in the wild use several spellings for the same logical field;
// keeping the lookup in one place keeps every normalizer consistent instead
// of scattering first-match branching across call sites.
func FirstAlias(m map[string]any, aliases ...string) (string, bool) {
	for _, key := range aliases {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			continue
		}
		return s, true
	}
	return "", false
}

// FirstAliasRaw is FirstAlias without string coercion, for fields whose value
// is structured (maps, lists). Nil values are skipped like empty strings.
func FirstAliasRaw(m map[string]any, aliases ...string) (any, bool) {
	for _, key := range aliases {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// FirstAliasBool reads a boolean field through the alias list. Accepts YAML
// booleans and the string spellings "true"/"false".
func FirstAliasBool(m map[string]any, aliases ...string) (value, ok bool) {
	for _, key := range aliases {
		v, present := m[key]
		if !present || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			switch strings.TrimSpace(strings.ToLower(b)) {
			case "true", "yes":
				return true, true
			case "false", "no":
				return false, true
			}
		}
	}
	return false, false
}

// AsMap coerces a decoded YAML/JSON value to a string-keyed map. yaml.v3
// already produces map[string]any for mappings; map[any]any is handled for
// callers that decode through older paths.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// AsSlice coerces a decoded value to a []any list.
func AsSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}
