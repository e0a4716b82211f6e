package executor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mpetrovici/flowctl/pkg/schema"
)

// CheckResult is one entry in a step's assertion audit trail. Every
// evaluation records its checks regardless of outcome, so a triage reader
// sees what was verified, not just what broke.
type CheckResult struct {
	Type     string `yaml:"type"               json:"type"`
	Target   string `yaml:"target,omitempty"   json:"target,omitempty"` // path or substring under test
	Expected string `yaml:"expected,omitempty" json:"expected,omitempty"`
	Actual   string `yaml:"actual,omitempty"   json:"actual,omitempty"`
	Ok       bool   `yaml:"ok"                 json:"ok"`
}

// Verdict is the outcome of evaluating an expectation against a response.
type Verdict struct {
	Ok     bool
	Reason string // "expect_<category>" of the first failing check, or "parse_error"
	Checks []CheckResult
}

// Evaluate runs the expectation DSL against a response. Categories evaluate
// in fixed order (status, body_contains, json_contains, json_path_exists,
// json_path_equals) and evaluation stops at the first failing category.
// A nil expectation means "any 2xx".
func Evaluate(e *schema.Expectation, status int, body []byte) Verdict {
	if e == nil {
		e = &schema.Expectation{}
	}
	v := Verdict{Ok: true}

	if !v.check(evalStatus(e, status)) {
		return v
	}
	if !v.checkAll("expect_body_contains", evalBodyContains(e, body)) {
		return v
	}

	// The JSON categories share one parse of the body.
	needJSON := len(e.JSONContains) > 0 || len(e.JSONPathExists) > 0 || len(e.JSONPathEquals) > 0
	if !needJSON {
		return v
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		v.Ok = false
		v.Reason = "parse_error"
		v.Checks = append(v.Checks, CheckResult{
			Type:   "parse_body",
			Actual: fmt.Sprintf("invalid JSON: %v", err),
		})
		return v
	}

	if len(e.JSONContains) > 0 {
		ok, detail := deepContains(e.JSONContains, parsed)
		c := CheckResult{
			Type:     "json_contains",
			Expected: compactJSON(e.JSONContains),
			Ok:       ok,
		}
		if !ok {
			c.Actual = detail
		}
		if !v.check("expect_json_contains", c) {
			return v
		}
	}
	if !v.checkAll("expect_json_path_exists", evalPathExists(e, body)) {
		return v
	}
	if !v.checkAll("expect_json_path_equals", evalPathEquals(e, body)) {
		return v
	}
	return v
}

// check appends one check and fails the verdict when the check failed.
func (v *Verdict) check(reason string, c CheckResult) bool {
	v.Checks = append(v.Checks, c)
	if !c.Ok {
		v.Ok = false
		v.Reason = reason
		return false
	}
	return true
}

// checkAll appends a category's checks and fails at the category's first
// failing entry; remaining checks in the same category are still recorded.
func (v *Verdict) checkAll(reason string, checks []CheckResult) bool {
	failed := false
	for _, c := range checks {
		v.Checks = append(v.Checks, c)
		if !c.Ok {
			failed = true
		}
	}
	if failed {
		v.Ok = false
		v.Reason = reason
	}
	return !failed
}

func evalStatus(e *schema.Expectation, status int) (string, CheckResult) {
	c := CheckResult{Type: "status", Actual: fmt.Sprint(status)}
	switch {
	case e.Status != 0:
		c.Expected = fmt.Sprint(e.Status)
		c.Ok = status == e.Status
	case len(e.StatusIn) > 0:
		parts := make([]string, len(e.StatusIn))
		for i, s := range e.StatusIn {
			parts[i] = fmt.Sprint(s)
			if s == status {
				c.Ok = true
			}
		}
		c.Expected = "one of [" + strings.Join(parts, ", ") + "]"
	default:
		c.Expected = "2xx"
		c.Ok = status >= 200 && status < 300
	}
	return "expect_status", c
}

func evalBodyContains(e *schema.Expectation, body []byte) []CheckResult {
	var checks []CheckResult
	for _, want := range e.BodyContains {
		checks = append(checks, CheckResult{
			Type:   "body_contains",
			Target: want,
			Ok:     strings.Contains(string(body), want),
		})
	}
	return checks
}

func evalPathExists(e *schema.Expectation, body []byte) []CheckResult {
	var checks []CheckResult
	for _, path := range e.JSONPathExists {
		checks = append(checks, CheckResult{
			Type:   "json_path_exists",
			Target: path,
			Ok:     gjson.GetBytes(body, path).Exists(),
		})
	}
	return checks
}

func evalPathEquals(e *schema.Expectation, body []byte) []CheckResult {
	// Map order is random; sort paths so the audit trail is stable.
	paths := make([]string, 0, len(e.JSONPathEquals))
	for p := range e.JSONPathEquals {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var checks []CheckResult
	for _, path := range paths {
		want := e.JSONPathEquals[path]
		got := gjson.GetBytes(body, path)
		c := CheckResult{
			Type:     "json_path_equals",
			Target:   path,
			Expected: compactJSON(want),
		}
		if got.Exists() {
			c.Actual = compactJSON(got.Value())
			c.Ok = valueEqual(want, got.Value())
		} else {
			c.Actual = "<missing>"
		}
		checks = append(checks, c)
	}
	return checks
}

// deepContains reports whether expected is recursively contained in actual:
// every expected map key must be present with a contained value, every
// expected list element must be contained in some actual element, and
// scalars compare by normalized equality. Containment, not equality:
// extra fields in actual never fail the check. Returns a description of the
// first divergence for the audit trail.
func deepContains(expected, actual any) (bool, string) {
	switch exp := expected.(type) {
	case map[string]any:
		actMap, ok := actual.(map[string]any)
		if !ok {
			return false, fmt.Sprintf("expected object, got %s", compactJSON(actual))
		}
		// Sorted keys keep the reported divergence deterministic.
		keys := make([]string, 0, len(exp))
		for k := range exp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			actVal, present := actMap[k]
			if !present {
				return false, fmt.Sprintf("missing key %q", k)
			}
			if ok, detail := deepContains(exp[k], actVal); !ok {
				return false, fmt.Sprintf("at %q: %s", k, detail)
			}
		}
		return true, ""
	case []any:
		actList, ok := actual.([]any)
		if !ok {
			return false, fmt.Sprintf("expected array, got %s", compactJSON(actual))
		}
		for i, expItem := range exp {
			found := false
			for _, actItem := range actList {
				if ok, _ := deepContains(expItem, actItem); ok {
					found = true
					break
				}
			}
			if !found {
				return false, fmt.Sprintf("element %d (%s) not found", i, compactJSON(expItem))
			}
		}
		return true, ""
	default:
		if valueEqual(expected, actual) {
			return true, ""
		}
		return false, fmt.Sprintf("expected %s, got %s", compactJSON(expected), compactJSON(actual))
	}
}

// valueEqual is deep equality over parsed JSON/YAML values with numeric
// normalization: YAML decodes 5 as int, encoding/json as float64, and the
// two must compare equal.
func valueEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bVal, present := bv[k]
			if !present || !valueEqual(v, bVal) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
