// Package schema defines the Go struct types for the flowctl document model
// and provides strict YAML parsing for manually authored (SSOT) documents.
//
// Two classes of document exist:
//   - SSOT documents (flows, bindings, runtime config) — authored by hand,
//     decoded strictly (unknown fields rejected), validated, never rewritten.
//   - Derived artifacts (implementation index, compiled plans, run reports) —
//     regenerated wholesale by tooling on every build.
package schema

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flow is a named business process: a directed graph of nodes and edges.
type Flow struct {
	ID     string `yaml:"id"               json:"id"               jsonschema:"required"`
	Title  string `yaml:"title,omitempty"  json:"title,omitempty"`
	Status string `yaml:"status,omitempty" json:"status,omitempty" jsonschema:"enum=draft,enum=active,enum=stable,enum=deprecated"`
	Nodes  []Node `yaml:"nodes"            json:"nodes"            jsonschema:"required,minItems=1"`
	Edges  []Edge `yaml:"edges,omitempty"  json:"edges,omitempty"`
}

// Node is one step within a flow.
type Node struct {
	ID     string `yaml:"id"               json:"id"               jsonschema:"required"`
	Title  string `yaml:"title,omitempty"  json:"title,omitempty"`
	Status string `yaml:"status,omitempty" json:"status,omitempty" jsonschema:"enum=draft,enum=active,enum=stable,enum=deprecated"`
}

// Edge is a directed transition between two nodes of the same flow.
type Edge struct {
	From string `yaml:"from" json:"from" jsonschema:"required"`
	To   string `yaml:"to"   json:"to"   jsonschema:"required"`
}

// HasNode reports whether the flow declares a node with the given id.
func (f *Flow) HasNode(nodeID string) bool {
	for _, n := range f.Nodes {
		if n.ID == nodeID {
			return true
		}
	}
	return false
}

// NodeByID returns the node with the given id, or nil.
func (f *Flow) NodeByID(nodeID string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == nodeID {
			return &f.Nodes[i]
		}
	}
	return nil
}

// HasEdge reports whether the flow declares a directed edge from → to.
func (f *Flow) HasEdge(from, to string) bool {
	for _, e := range f.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// WeightedEndpoint is one candidate in a binding, with a selection weight.
// Weight decodes leniently: YAML numbers and numeric strings are accepted,
// anything unparseable defaults to 0 so a typo demotes rather than aborts.
type WeightedEndpoint struct {
	EndpointID string `yaml:"endpoint" json:"endpoint" jsonschema:"required"`
	Weight     int    `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// UnmarshalYAML implements lenient weight decoding.
func (w *WeightedEndpoint) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		EndpointID string    `yaml:"endpoint"`
		Weight     yaml.Node `yaml:"weight"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	w.EndpointID = raw.EndpointID
	w.Weight = 0
	if raw.Weight.Kind == yaml.ScalarNode && raw.Weight.Value != "" {
		v := strings.TrimSpace(raw.Weight.Value)
		if n, err := strconv.Atoi(v); err == nil {
			w.Weight = n
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			w.Weight = int(f)
		}
	}
	return nil
}

// BindingCondition overrides the candidate set when the current environment
// appears in Env. Conditions are scanned in declared order; the first match
// with a non-empty override wins and ends the scan — declaration order is
// semantically significant.
type BindingCondition struct {
	Env      []string           `yaml:"env"      json:"env"      jsonschema:"required,minItems=1"`
	Override []WeightedEndpoint `yaml:"override" json:"override"`
}

// Binding is a manual rule selecting one endpoint among competing
// implementations of a flow node.
type Binding struct {
	ID         string             `yaml:"id"                   json:"id"                   jsonschema:"required"`
	Flow       string             `yaml:"flow,omitempty"       json:"flow,omitempty"`
	Node       string             `yaml:"node,omitempty"       json:"node,omitempty"`
	Primary    string             `yaml:"primary,omitempty"    json:"primary,omitempty"`
	Candidates []WeightedEndpoint `yaml:"candidates,omitempty" json:"candidates,omitempty"`
	Conditions []BindingCondition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Endpoints returns every endpoint id referenced anywhere in the binding:
// primary, all candidates, and all condition overrides. Used by the validator
// to catch stale references independent of which branch resolution takes.
func (b *Binding) Endpoints() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(b.Primary)
	for _, c := range b.Candidates {
		add(c.EndpointID)
	}
	for _, cond := range b.Conditions {
		for _, o := range cond.Override {
			add(o.EndpointID)
		}
	}
	return out
}

// Implementation is an endpoint's declared fulfillment of a flow node.
type Implementation struct {
	EndpointID  string   `yaml:"endpoint"           json:"endpoint"           jsonschema:"required"`
	ModuleID    string   `yaml:"module"             json:"module"             jsonschema:"required"`
	InterfaceID string   `yaml:"interface"          json:"interface"          jsonschema:"required"`
	Protocol    string   `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Status      string   `yaml:"status,omitempty"   json:"status,omitempty"`
	Role        string   `yaml:"role,omitempty"     json:"role,omitempty"`
	Variants    []string `yaml:"variants,omitempty" json:"variants,omitempty"`
}

// IndexEntry lists the implementations of one flow node.
type IndexEntry struct {
	Flow            string           `yaml:"flow" json:"flow"`
	Node            string           `yaml:"node" json:"node"`
	Implementations []Implementation `yaml:"implementations" json:"implementations"`
}

// Index is the derived implementation index: for every flow node, the sorted
// list of endpoints implementing it. Rebuilt wholesale on every `flowctl
// index`; entries are sorted (flow, node, endpoint, variant) so identical
// inputs produce byte-identical output.
type Index struct {
	GeneratedAt string       `yaml:"generated_at" json:"generated_at"`
	Entries     []IndexEntry `yaml:"entries"      json:"entries"`
}

// Map returns the index keyed by NodeRef for lookup.
func (ix *Index) Map() map[NodeRef][]Implementation {
	m := make(map[NodeRef][]Implementation, len(ix.Entries))
	for _, e := range ix.Entries {
		m[NodeRef{Flow: e.Flow, Node: e.Node}] = e.Implementations
	}
	return m
}

// Expectation is the response-assertion language for a scenario step.
// Checks evaluate in field order below and stop at the first failing
// category. An empty expectation means "any 2xx".
type Expectation struct {
	Status         int            `yaml:"status,omitempty"           json:"status,omitempty"`
	StatusIn       []int          `yaml:"status_in,omitempty"        json:"status_in,omitempty"`
	BodyContains   []string       `yaml:"body_contains,omitempty"    json:"body_contains,omitempty"`
	JSONContains   map[string]any `yaml:"json_contains,omitempty"    json:"json_contains,omitempty"`
	JSONPathExists []string       `yaml:"json_path_exists,omitempty" json:"json_path_exists,omitempty"`
	JSONPathEquals map[string]any `yaml:"json_path_equals,omitempty" json:"json_path_equals,omitempty"`
}

// Step is one canonical scenario step, produced by the normalizer.
type Step struct {
	ID              string         `yaml:"id"                         json:"id"`
	Flow            string         `yaml:"flow"                       json:"flow"`
	Node            string         `yaml:"node"                       json:"node"`
	EndpointID      string         `yaml:"endpoint,omitempty"         json:"endpoint,omitempty"`
	UseBinding      string         `yaml:"use_binding,omitempty"      json:"use_binding,omitempty"`
	When            string         `yaml:"when,omitempty"             json:"when,omitempty"`
	Input           map[string]any `yaml:"input,omitempty"            json:"input,omitempty"`
	Expect          *Expectation   `yaml:"expect,omitempty"           json:"expect,omitempty"`
	AllowUnresolved bool           `yaml:"allow_unresolved,omitempty" json:"allow_unresolved,omitempty"`
}

// Ref returns the step's flow-node reference.
func (s *Step) Ref() NodeRef {
	return NodeRef{Flow: s.Flow, Node: s.Node}
}

// Scenario is an ordered step sequence tracing a path through a flow,
// used for integration testing against live endpoints.
type Scenario struct {
	ID              string `yaml:"id"                         json:"id"                         jsonschema:"required"`
	Flow            string `yaml:"flow,omitempty"             json:"flow,omitempty"`
	Status          string `yaml:"status,omitempty"           json:"status,omitempty"           jsonschema:"enum=draft,enum=active,enum=stable,enum=deprecated"`
	AllowUnresolved bool   `yaml:"allow_unresolved,omitempty" json:"allow_unresolved,omitempty"`
	Steps           []Step `yaml:"steps"                      json:"steps"                      jsonschema:"required,minItems=1"`
}

// PlannedStep is a scenario step after compilation: endpoint resolved (or
// not) for a specific environment, with the resolution method recorded for
// downstream diagnosis.
type PlannedStep struct {
	Step       `yaml:",inline" json:",inline"`
	ResolvedID string `yaml:"resolved_endpoint,omitempty" json:"resolved_endpoint,omitempty"`
	BindingID  string `yaml:"binding,omitempty"           json:"binding,omitempty"`
	Resolution string `yaml:"resolution"                  json:"resolution"`
}

// Plan is the compiled, environment-specific execution form of a scenario.
type Plan struct {
	ID         string        `yaml:"id"            json:"id"`
	Flow       string        `yaml:"flow,omitempty" json:"flow,omitempty"`
	CompiledAt string        `yaml:"compiled_at"   json:"compiled_at"`
	Env        string        `yaml:"env,omitempty" json:"env,omitempty"`
	Steps      []PlannedStep `yaml:"steps"         json:"steps"`
}

// PlanIndex lists the scenario ids compiled into a plan directory.
type PlanIndex struct {
	CompiledAt string   `yaml:"compiled_at" json:"compiled_at"`
	Env        string   `yaml:"env,omitempty" json:"env,omitempty"`
	Scenarios  []string `yaml:"scenarios"   json:"scenarios"`
}

// RuntimeConfig maps module ids to base URLs for a target environment.
// Optional; the executor falls back to the FLOWCTL_ENDPOINT_<MODULE>
// environment-variable convention when a module has no entry.
type RuntimeConfig struct {
	Env      string            `yaml:"env,omitempty"       json:"env,omitempty"`
	BaseURLs map[string]string `yaml:"base_urls,omitempty" json:"base_urls,omitempty"`
}

// LoadFlowFile reads and parses a flow YAML file with strict unknown-field
// rejection (yaml.v3 KnownFields).
func LoadFlowFile(path string) (*Flow, error) {
	var f Flow
	if err := loadStrict(path, &f); err != nil {
		return nil, fmt.Errorf("load flow: %w", err)
	}
	return &f, nil
}

// LoadBindingFile reads and parses a binding YAML file strictly.
func LoadBindingFile(path string) (*Binding, error) {
	var b Binding
	if err := loadStrict(path, &b); err != nil {
		return nil, fmt.Errorf("load binding: %w", err)
	}
	return &b, nil
}

// LoadIndexFile reads a previously generated implementation index.
func LoadIndexFile(path string) (*Index, error) {
	var ix Index
	if err := loadStrict(path, &ix); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return &ix, nil
}

// LoadPlanFile reads a compiled plan document.
func LoadPlanFile(path string) (*Plan, error) {
	var p Plan
	if err := loadStrict(path, &p); err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return &p, nil
}

// LoadRuntimeConfig reads the optional runtime endpoint configuration.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	var rc RuntimeConfig
	if err := loadStrict(path, &rc); err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}
	return &rc, nil
}

func loadStrict(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return decodeStrict(f, out)
}

func decodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // SSOT documents reject unknown fields
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
