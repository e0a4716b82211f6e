// Package scenario parses raw scenario documents into their canonical form.
// Scenario files have accumulated several historical spellings for the same
// logical fields; normalization funnels every spelling through the shared
// ordered alias lookup so no call site grows its own branching.
package scenario

import (
	"fmt"

	"github.com/mpetrovici/flowctl/pkg/schema"
	"github.com/mpetrovici/flowctl/pkg/validate"
)

// Accepted field spellings, consulted first-match-wins.
var (
	idAliases       = []string{"id", "scenario", "scenario_id", "name"}
	flowAliases     = []string{"flow", "flow_id", "flowId", "process"}
	nodeAliases     = []string{"node", "node_id", "nodeId", "step", "target"}
	endpointAliases = []string{"endpoint", "endpoint_id", "endpointId", "impl", "implementation"}
	bindingAliases  = []string{"use_binding", "binding", "binding_id"}
	stepsAliases    = []string{"steps", "sequence", "path"}
	whenAliases     = []string{"when", "condition"}
	inputAliases    = []string{"input", "payload", "body"}
	expectAliases   = []string{"expect", "expectation", "assert"}
	allowAliases    = []string{"allow_unresolved", "allowUnresolved"}
	statusAliases   = []string{"status", "state"}
)

// Normalize converts one raw scenario document into canonical form.
// Structural problems (missing ids, unreadable step entries) are returned as
// accumulated issues rather than aborting the parse; only a document too
// malformed to normalize at all yields a nil scenario.
func Normalize(raw schema.RawScenario) (*schema.Scenario, []*validate.ValidationError) {
	var issues []*validate.ValidationError
	doc := raw.Doc
	if doc == nil {
		return nil, []*validate.ValidationError{
			validate.Errorf("structural", raw.Path, "empty scenario document"),
		}
	}

	sc := &schema.Scenario{}
	if id, ok := schema.FirstAlias(doc, idAliases...); ok {
		sc.ID = id
	} else {
		issues = append(issues, validate.Errorf("structural", raw.Path, "scenario has no id"))
	}
	sc.Flow, _ = schema.FirstAlias(doc, flowAliases...)
	sc.Status, _ = schema.FirstAlias(doc, statusAliases...)

	// allow_unresolved defaults from draft status when not explicit.
	if v, ok := schema.FirstAliasBool(doc, allowAliases...); ok {
		sc.AllowUnresolved = v
	} else {
		sc.AllowUnresolved = sc.Status == "draft"
	}

	rawSteps, ok := schema.FirstAliasRaw(doc, stepsAliases...)
	if !ok {
		issues = append(issues, validate.Errorf("structural", raw.Path, "scenario %q has no steps", sc.ID))
		return sc, issues
	}
	list, ok := schema.AsSlice(rawSteps)
	if !ok {
		issues = append(issues, validate.Errorf("structural", raw.Path, "scenario %q steps is not a list", sc.ID))
		return sc, issues
	}

	for i, entry := range list {
		path := fmt.Sprintf("%s: steps[%d]", raw.Path, i)
		m, ok := schema.AsMap(entry)
		if !ok {
			issues = append(issues, validate.Errorf("structural", path, "step is not a mapping"))
			continue
		}
		step, stepIssues := normalizeStep(m, i, sc, path)
		issues = append(issues, stepIssues...)
		sc.Steps = append(sc.Steps, step)
	}
	return sc, issues
}

// NormalizeAll normalizes a directory's worth of raw scenarios, skipping
// documents that could not be normalized and accumulating all issues.
func NormalizeAll(raws []schema.RawScenario) ([]*schema.Scenario, []*validate.ValidationError) {
	var scenarios []*schema.Scenario
	var issues []*validate.ValidationError
	for _, raw := range raws {
		sc, scIssues := Normalize(raw)
		issues = append(issues, scIssues...)
		if sc != nil {
			scenarios = append(scenarios, sc)
		}
	}
	return scenarios, issues
}

func normalizeStep(m map[string]any, pos int, sc *schema.Scenario, path string) (schema.Step, []*validate.ValidationError) {
	var issues []*validate.ValidationError
	step := schema.Step{}

	if id, ok := schema.FirstAlias(m, idAliases...); ok {
		step.ID = id
	} else {
		// Positional placeholder keeps reports readable for terse documents.
		step.ID = fmt.Sprintf("step-%d", pos+1)
	}

	// Steps without an explicit flow inherit the scenario flow hint.
	if flow, ok := schema.FirstAlias(m, flowAliases...); ok {
		step.Flow = flow
	} else {
		step.Flow = sc.Flow
	}
	if node, ok := schema.FirstAlias(m, nodeAliases...); ok {
		step.Node = node
	} else {
		issues = append(issues, validate.Errorf("structural", path, "step %q has no node reference", step.ID))
	}

	step.EndpointID, _ = schema.FirstAlias(m, endpointAliases...)
	step.UseBinding, _ = schema.FirstAlias(m, bindingAliases...)
	step.When, _ = schema.FirstAlias(m, whenAliases...)

	if v, ok := schema.FirstAliasBool(m, allowAliases...); ok {
		step.AllowUnresolved = v
	} else {
		step.AllowUnresolved = sc.AllowUnresolved
	}

	if raw, ok := schema.FirstAliasRaw(m, inputAliases...); ok {
		if input, ok := schema.AsMap(raw); ok {
			step.Input = input
		} else {
			issues = append(issues, validate.Warningf("structural", path, "step %q input is not a mapping; ignored", step.ID))
		}
	}

	if raw, ok := schema.FirstAliasRaw(m, expectAliases...); ok {
		if em, ok := schema.AsMap(raw); ok {
			expect, expIssues := normalizeExpectation(em, path)
			issues = append(issues, expIssues...)
			step.Expect = expect
		} else {
			issues = append(issues, validate.Warningf("structural", path, "step %q expect is not a mapping; ignored", step.ID))
		}
	}

	return step, issues
}

func normalizeExpectation(m map[string]any, path string) (*schema.Expectation, []*validate.ValidationError) {
	var issues []*validate.ValidationError
	e := &schema.Expectation{}

	if v, ok := m["status"]; ok {
		if n, ok := toInt(v); ok {
			e.Status = n
		} else {
			issues = append(issues, validate.Warningf("structural", path, "expect.status %v is not an integer; ignored", v))
		}
	}
	if v, ok := m["status_in"]; ok {
		if list, ok := schema.AsSlice(v); ok {
			for _, item := range list {
				if n, ok := toInt(item); ok {
					e.StatusIn = append(e.StatusIn, n)
				} else {
					issues = append(issues, validate.Warningf("structural", path, "expect.status_in entry %v is not an integer; ignored", item))
				}
			}
		}
	}
	if v, ok := m["body_contains"]; ok {
		e.BodyContains = toStringList(v)
	}
	if v, ok := m["json_contains"]; ok {
		if jm, ok := schema.AsMap(v); ok {
			e.JSONContains = jm
		} else {
			issues = append(issues, validate.Warningf("structural", path, "expect.json_contains is not a mapping; ignored"))
		}
	}
	if v, ok := m["json_path_exists"]; ok {
		e.JSONPathExists = toStringList(v)
	}
	if v, ok := m["json_path_equals"]; ok {
		if jm, ok := schema.AsMap(v); ok {
			e.JSONPathEquals = jm
		} else {
			issues = append(issues, validate.Warningf("structural", path, "expect.json_path_equals is not a mapping; ignored"))
		}
	}
	return e, issues
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// toStringList accepts both a list of strings and a single bare string.
func toStringList(v any) []string {
	if s, ok := v.(string); ok {
		return []string{s}
	}
	list, ok := schema.AsSlice(v)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(item))
		}
	}
	return out
}
