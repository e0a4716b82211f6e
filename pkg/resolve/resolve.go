// Package resolve selects exactly one endpoint for a flow node. Resolution
// is a pure function of (binding, environment, implementation set) — never
// of wall-clock time or call order — so the validator, the compiler, and the
// executor all share it and always agree.
package resolve

import (
	"sort"

	"github.com/mpetrovici/flowctl/pkg/schema"
)

// Resolution methods recorded on every compiled step for downstream
// diagnosis.
const (
	MethodExplicit                 = "explicit"
	MethodBinding                  = "binding"
	MethodDefaultBinding           = "default_binding"
	MethodSingleImpl               = "single_impl"
	MethodAmbiguous                = "ambiguous"
	MethodNoImpl                   = "no_impl"
	MethodMissingBinding           = "missing_binding"
	MethodBindingUnresolved        = "binding_unresolved"
	MethodDefaultBindingUnresolved = "default_binding_unresolved"
)

// Resolution is the outcome of resolving one step.
type Resolution struct {
	EndpointID string // empty when unresolved
	BindingID  string // binding consulted, if any
	Method     string
}

// Resolved reports whether an endpoint was selected.
func (r Resolution) Resolved() bool {
	return r.EndpointID != ""
}

// Resolve applies a binding for the given environment and returns the
// selected endpoint id, or "" when the working candidate set is empty.
//
// The algorithm, in order:
//  1. primary, when set, wins regardless of environment;
//  2. conditions are scanned in declared order — the first whose env list
//     contains the current environment and whose override is non-empty
//     replaces the working set and ends the scan, even if a later condition
//     would also match (declaration order is semantically significant);
//  3. the highest weight in the working set wins, ties broken by
//     lexicographically smallest endpoint id.
func Resolve(b *schema.Binding, env string) string {
	if b == nil {
		return ""
	}
	if b.Primary != "" {
		return b.Primary
	}

	working := b.Candidates
	if env != "" {
		for _, cond := range b.Conditions {
			if !containsEnv(cond.Env, env) || len(cond.Override) == 0 {
				continue
			}
			working = cond.Override
			break
		}
	}

	best := ""
	bestWeight := 0
	for _, c := range working {
		if c.EndpointID == "" {
			continue
		}
		switch {
		case best == "",
			c.Weight > bestWeight,
			c.Weight == bestWeight && c.EndpointID < best:
			best = c.EndpointID
			bestWeight = c.Weight
		}
	}
	return best
}

func containsEnv(envs []string, env string) bool {
	for _, e := range envs {
		if e == env {
			return true
		}
	}
	return false
}

// BindingSet indexes bindings by id and by target node for step resolution.
type BindingSet struct {
	byID   map[string]*schema.Binding
	byNode map[schema.NodeRef]*schema.Binding
}

// NewBindingSet indexes the given bindings. When several bindings target the
// same node the one with the lexicographically smallest id becomes the
// node's default, keeping resolution independent of load order; the
// validator reports the duplication separately.
func NewBindingSet(bindings []*schema.Binding) *BindingSet {
	s := &BindingSet{
		byID:   make(map[string]*schema.Binding, len(bindings)),
		byNode: make(map[schema.NodeRef]*schema.Binding),
	}
	sorted := append([]*schema.Binding(nil), bindings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, b := range sorted {
		if _, dup := s.byID[b.ID]; !dup {
			s.byID[b.ID] = b
		}
		ref := schema.NodeRef{Flow: b.Flow, Node: b.Node}
		if !ref.IsZero() {
			if _, claimed := s.byNode[ref]; !claimed {
				s.byNode[ref] = b
			}
		}
	}
	return s
}

// ByID returns the binding with the given id.
func (s *BindingSet) ByID(id string) (*schema.Binding, bool) {
	b, ok := s.byID[id]
	return b, ok
}

// ForNode returns the default binding targeting the given node.
func (s *BindingSet) ForNode(ref schema.NodeRef) (*schema.Binding, bool) {
	b, ok := s.byNode[ref]
	return b, ok
}

// Step resolves one scenario step against the bindings and the
// implementation index. The same decision tree backs validation (to warn
// about unresolvable steps), compilation (to emit the plan), and execution
// (to cover drift between compile and run time):
//
//	explicit endpoint       → explicit
//	named binding, missing  → missing_binding
//	named binding           → binding | binding_unresolved
//	node default binding    → default_binding | default_binding_unresolved
//	exactly one impl        → single_impl
//	no impls                → no_impl
//	several impls           → ambiguous (role is never an implicit tiebreak)
func Step(step *schema.Step, bindings *BindingSet, impls map[schema.NodeRef][]schema.Implementation, env string) Resolution {
	if step.EndpointID != "" {
		return Resolution{EndpointID: step.EndpointID, Method: MethodExplicit}
	}

	if step.UseBinding != "" {
		b, ok := bindings.ByID(step.UseBinding)
		if !ok {
			return Resolution{Method: MethodMissingBinding}
		}
		if ep := Resolve(b, env); ep != "" {
			return Resolution{EndpointID: ep, BindingID: b.ID, Method: MethodBinding}
		}
		return Resolution{BindingID: b.ID, Method: MethodBindingUnresolved}
	}

	if b, ok := bindings.ForNode(step.Ref()); ok {
		if ep := Resolve(b, env); ep != "" {
			return Resolution{EndpointID: ep, BindingID: b.ID, Method: MethodDefaultBinding}
		}
		return Resolution{BindingID: b.ID, Method: MethodDefaultBindingUnresolved}
	}

	switch candidates := impls[step.Ref()]; len(candidates) {
	case 0:
		return Resolution{Method: MethodNoImpl}
	case 1:
		return Resolution{EndpointID: candidates[0].EndpointID, Method: MethodSingleImpl}
	default:
		return Resolution{Method: MethodAmbiguous}
	}
}
