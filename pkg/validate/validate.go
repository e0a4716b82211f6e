package validate

import (
	"fmt"

	"github.com/mpetrovici/flowctl/pkg/resolve"
	"github.com/mpetrovici/flowctl/pkg/schema"
)

// Inputs is the immutable snapshot the validator works over. Scenarios must
// already be in canonical (normalized) form.
type Inputs struct {
	Flows     []*schema.Flow
	Bindings  []*schema.Binding
	Scenarios []*schema.Scenario
	Index     *schema.Index

	// Env is the environment resolution runs against when checking steps
	// without an explicit endpoint.
	Env string

	// Strict promotes unresolved-step warnings to errors for steps that do
	// not permit unresolved endpoints.
	Strict bool
}

// Run executes phases 2+3 on already-loaded documents: semantic (generated
// JSON Schema) then domain (cross-document rules). Phase 1, structural, is
// strict loading and normalization — its failures arrive through the loader
// and normalizer. Semantic errors block the domain phase, matching the
// pipeline order: a document that fails its schema produces noise, not
// signal, from reference checking.
func Run(in *Inputs) []*ValidationError {
	var errs []*ValidationError
	errs = append(errs, validateSemantic(in)...)
	if HasErrors(errs) {
		return errs
	}
	errs = append(errs, validateDomain(in)...)
	return errs
}

// validateDomain enforces the cross-document rules: id uniqueness, graph
// integrity, binding reference freshness, and scenario path validity.
func validateDomain(in *Inputs) []*ValidationError {
	var errs []*ValidationError

	flowsByID := make(map[string]*schema.Flow, len(in.Flows))
	for _, f := range in.Flows {
		if _, dup := flowsByID[f.ID]; dup {
			errs = append(errs, Errorf("domain", "flows["+f.ID+"]", "duplicate flow id %q", f.ID))
			continue
		}
		flowsByID[f.ID] = f
		errs = append(errs, validateFlowGraph(f)...)
	}

	var impls map[schema.NodeRef][]schema.Implementation
	if in.Index != nil {
		impls = in.Index.Map()
	} else {
		impls = make(map[schema.NodeRef][]schema.Implementation)
	}

	bindings := resolve.NewBindingSet(in.Bindings)
	errs = append(errs, validateBindings(in.Bindings, flowsByID, impls)...)

	seenScenarios := make(map[string]bool)
	for _, sc := range in.Scenarios {
		if seenScenarios[sc.ID] {
			errs = append(errs, Errorf("domain", "scenarios["+sc.ID+"]", "duplicate scenario id %q", sc.ID))
			continue
		}
		seenScenarios[sc.ID] = true
		errs = append(errs, validateScenario(sc, flowsByID, bindings, impls, in.Env, in.Strict)...)
	}

	return errs
}

// validateFlowGraph checks node/edge uniqueness and edge reference
// integrity within one flow.
func validateFlowGraph(f *schema.Flow) []*ValidationError {
	var errs []*ValidationError
	base := "flows[" + f.ID + "]"

	seen := make(map[string]bool, len(f.Nodes))
	for i, n := range f.Nodes {
		if n.ID == "" {
			errs = append(errs, Errorf("domain", fmt.Sprintf("%s.nodes[%d]", base, i), "node has no id"))
			continue
		}
		if seen[n.ID] {
			errs = append(errs, Errorf("domain", fmt.Sprintf("%s.nodes[%d]", base, i), "duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	seenEdges := make(map[schema.Edge]bool, len(f.Edges))
	for i, e := range f.Edges {
		path := fmt.Sprintf("%s.edges[%d]", base, i)
		if !f.HasNode(e.From) {
			errs = append(errs, Errorf("domain", path, "edge references unknown node %q", e.From))
		}
		if !f.HasNode(e.To) {
			errs = append(errs, Errorf("domain", path, "edge references unknown node %q", e.To))
		}
		if seenEdges[e] {
			errs = append(errs, Warningf("domain", path, "duplicate edge %s→%s", e.From, e.To))
		}
		seenEdges[e] = true
	}
	return errs
}

// validateBindings checks every binding standalone: its flow/node must
// exist, and every endpoint it references anywhere (primary, candidates,
// condition overrides) must appear in the implementation index for its node.
// This catches stale bindings even when no scenario currently selects them.
func validateBindings(bindings []*schema.Binding, flows map[string]*schema.Flow, impls map[schema.NodeRef][]schema.Implementation) []*ValidationError {
	var errs []*ValidationError
	seen := make(map[string]bool, len(bindings))

	for _, b := range bindings {
		base := "bindings[" + b.ID + "]"
		if seen[b.ID] {
			errs = append(errs, Errorf("domain", base, "duplicate binding id %q", b.ID))
			continue
		}
		seen[b.ID] = true

		if b.Flow == "" && b.Node == "" {
			continue // free-floating binding, checked per step where used
		}
		flow, ok := flows[b.Flow]
		if !ok {
			errs = append(errs, Errorf("domain", base, "binding references unknown flow %q", b.Flow))
			continue
		}
		if !flow.HasNode(b.Node) {
			errs = append(errs, Errorf("domain", base, "binding references unknown node %q in flow %q", b.Node, b.Flow))
			continue
		}
		ref := schema.NodeRef{Flow: b.Flow, Node: b.Node}
		errs = append(errs, checkBindingEndpoints(b, base, ref, impls)...)

		if len(impls[ref]) < 2 {
			errs = append(errs, Warningf("domain", base,
				"binding targets node %s with %d implementation(s); bindings only matter with two or more", ref, len(impls[ref])))
		}
	}
	return errs
}

// checkBindingEndpoints verifies that every endpoint referenced anywhere in
// the binding exists in the index entry for the node.
func checkBindingEndpoints(b *schema.Binding, base string, ref schema.NodeRef, impls map[schema.NodeRef][]schema.Implementation) []*ValidationError {
	var errs []*ValidationError
	available := make(map[string]bool)
	for _, impl := range impls[ref] {
		available[impl.EndpointID] = true
	}
	for _, ep := range b.Endpoints() {
		if !available[ep] {
			errs = append(errs, Errorf("domain", base,
				"binding references endpoint %q which does not implement node %s", ep, ref))
		}
	}
	return errs
}

func validateScenario(sc *schema.Scenario, flows map[string]*schema.Flow, bindings *resolve.BindingSet, impls map[schema.NodeRef][]schema.Implementation, env string, strict bool) []*ValidationError {
	var errs []*ValidationError
	base := "scenarios[" + sc.ID + "]"

	if sc.Flow != "" {
		if _, ok := flows[sc.Flow]; !ok {
			errs = append(errs, Errorf("domain", base+".flow", "scenario references unknown flow %q", sc.Flow))
		}
	}

	for i := range sc.Steps {
		step := &sc.Steps[i]
		path := fmt.Sprintf("%s.steps[%d]", base, i)
		errs = append(errs, validateStep(step, path, flows, bindings, impls, env, strict)...)
	}

	// Path-validity invariant: consecutive steps must share a flow and be
	// connected by a declared edge — a scenario whose step order does not
	// correspond to a real process path is invalid regardless of how each
	// step resolves.
	for i := 1; i < len(sc.Steps); i++ {
		prev, cur := &sc.Steps[i-1], &sc.Steps[i]
		path := fmt.Sprintf("%s.steps[%d]", base, i)
		if prev.Flow != cur.Flow {
			errs = append(errs, Errorf("domain", path,
				"invalid step transition: step %q is in flow %q but step %q is in flow %q",
				prev.ID, prev.Flow, cur.ID, cur.Flow))
			continue
		}
		flow, ok := flows[cur.Flow]
		if !ok {
			continue // unknown flow already reported on the step
		}
		if !flow.HasEdge(prev.Node, cur.Node) {
			errs = append(errs, Errorf("domain", path,
				"invalid step transition: flow %q declares no edge %s→%s",
				cur.Flow, prev.Node, cur.Node))
		}
	}

	return errs
}

func validateStep(step *schema.Step, path string, flows map[string]*schema.Flow, bindings *resolve.BindingSet, impls map[schema.NodeRef][]schema.Implementation, env string, strict bool) []*ValidationError {
	var errs []*ValidationError

	flow, ok := flows[step.Flow]
	if !ok {
		errs = append(errs, Errorf("domain", path, "step %q references unknown flow %q", step.ID, step.Flow))
		return errs
	}
	if !flow.HasNode(step.Node) {
		errs = append(errs, Errorf("domain", path, "step %q references unknown node %q in flow %q", step.ID, step.Node, step.Flow))
		return errs
	}
	ref := step.Ref()

	if step.EndpointID != "" {
		found := false
		for _, impl := range impls[ref] {
			if impl.EndpointID == step.EndpointID {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, Errorf("domain", path,
				"step %q pins endpoint %q which does not implement node %s", step.ID, step.EndpointID, ref))
		}
		return errs
	}

	if step.UseBinding != "" {
		b, ok := bindings.ByID(step.UseBinding)
		if !ok {
			errs = append(errs, Errorf("domain", path, "step %q references unknown binding %q", step.ID, step.UseBinding))
			return errs
		}
		if b.Flow != "" && b.Flow != step.Flow || b.Node != "" && b.Node != step.Node {
			errs = append(errs, Errorf("domain", path,
				"step %q uses binding %q which targets %s::%s, not %s",
				step.ID, b.ID, b.Flow, b.Node, ref))
		}
		// Every endpoint anywhere in the binding must implement this node,
		// independent of which branch resolution would actually take.
		errs = append(errs, checkBindingEndpoints(b, path, ref, impls)...)
	}

	res := resolve.Step(step, bindings, impls, env)
	if !res.Resolved() {
		if strict && !step.AllowUnresolved {
			errs = append(errs, Errorf("domain", path,
				"step %q does not resolve to an endpoint (%s)", step.ID, res.Method))
		} else {
			errs = append(errs, Warningf("domain", path,
				"step %q does not resolve to an endpoint (%s)", step.ID, res.Method))
		}
	}
	return errs
}
