package schema

import (
	"reflect"
	"strings"
	"testing"
)

func TestLoadStrictRejectsUnknownFields(t *testing.T) {
	doc := `
id: billing
nodes:
  - id: create
edges: []
bogus_field: true
`
	var f Flow
	if err := decodeStrict(strings.NewReader(doc), &f); err == nil {
		t.Fatal("expected unknown-field error, got nil")
	}
}

func TestFlowGraphLookups(t *testing.T) {
	f := &Flow{
		ID:    "billing",
		Nodes: []Node{{ID: "create"}, {ID: "send"}},
		Edges: []Edge{{From: "create", To: "send"}},
	}

	if !f.HasNode("create") || f.HasNode("refund") {
		t.Error("HasNode gave wrong answer")
	}
	if !f.HasEdge("create", "send") {
		t.Error("declared edge not found")
	}
	if f.HasEdge("send", "create") {
		t.Error("reverse edge should not exist")
	}
}

func TestWeightedEndpointLenientWeight(t *testing.T) {
	doc := `
id: b1
candidates:
  - endpoint: svc:a
    weight: 3
  - endpoint: svc:b
    weight: "7"
  - endpoint: svc:c
    weight: oops
  - endpoint: svc:d
`
	var b Binding
	if err := decodeStrict(strings.NewReader(doc), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := make(map[string]int)
	for _, c := range b.Candidates {
		got[c.EndpointID] = c.Weight
	}
	want := map[string]int{"svc:a": 3, "svc:b": 7, "svc:c": 0, "svc:d": 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("weights = %v, want %v", got, want)
	}
}

func TestBindingEndpointsCoversEveryReference(t *testing.T) {
	b := &Binding{
		ID:      "b1",
		Primary: "svc:p",
		Candidates: []WeightedEndpoint{
			{EndpointID: "svc:a"},
			{EndpointID: "svc:b"},
		},
		Conditions: []BindingCondition{
			{Env: []string{"prod"}, Override: []WeightedEndpoint{{EndpointID: "svc:v2"}}},
			{Env: []string{"dev"}, Override: []WeightedEndpoint{{EndpointID: "svc:a"}}}, // dup
		},
	}
	got := b.Endpoints()
	want := []string{"svc:p", "svc:a", "svc:b", "svc:v2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Endpoints() = %v, want %v", got, want)
	}
}

func TestParseEndpointID(t *testing.T) {
	tests := []struct {
		in      string
		mod     string
		iface   string
		wantErr bool
	}{
		{"svc:create", "svc", "create", false},
		{"billing-svc:v2.create", "billing-svc", "v2.create", false},
		{"noseparator", "", "", true},
		{":leading", "", "", true},
		{"trailing:", "", "", true},
	}
	for _, tt := range tests {
		mod, iface, err := ParseEndpointID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEndpointID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if mod != tt.mod || iface != tt.iface {
			t.Errorf("ParseEndpointID(%q) = %q, %q; want %q, %q", tt.in, mod, iface, tt.mod, tt.iface)
		}
	}
}

func TestFirstAlias(t *testing.T) {
	m := map[string]any{
		"flow_id": "billing",
		"flowId":  "ignored-second-alias",
		"blank":   "   ",
		"num":     42,
	}

	if v, ok := FirstAlias(m, "flow", "flow_id", "flowId"); !ok || v != "billing" {
		t.Errorf("FirstAlias = %q, %v; want billing, true", v, ok)
	}
	// Blank values are skipped, later aliases still consulted.
	if v, ok := FirstAlias(m, "blank", "num"); !ok || v != "42" {
		t.Errorf("FirstAlias skip-blank = %q, %v; want 42, true", v, ok)
	}
	if _, ok := FirstAlias(m, "missing", "blank"); ok {
		t.Error("FirstAlias found a value where only blanks exist")
	}
}

func TestFirstAliasBool(t *testing.T) {
	m := map[string]any{"allow_unresolved": "yes", "strict": false}
	if v, ok := FirstAliasBool(m, "allowUnresolved", "allow_unresolved"); !ok || !v {
		t.Errorf("FirstAliasBool = %v, %v; want true, true", v, ok)
	}
	if v, ok := FirstAliasBool(m, "strict"); !ok || v {
		t.Errorf("FirstAliasBool false value = %v, %v; want false, true", v, ok)
	}
	if _, ok := FirstAliasBool(m, "nope"); ok {
		t.Error("FirstAliasBool reported a missing key as present")
	}
}

func TestImplementsRefAcceptsStringAndMapping(t *testing.T) {
	doc := `
modules:
  - id: svc
    interfaces:
      - id: create
        protocol: http
        implements:
          - billing.create
          - flow: billing
            node: send
`
	var reg Registry
	if err := decodeStrict(strings.NewReader(doc), &reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	impls := reg.Modules[0].Interfaces[0].Implements
	if len(impls) != 2 {
		t.Fatalf("got %d implements entries, want 2", len(impls))
	}
	if s, ok := impls[0].Value.(string); !ok || s != "billing.create" {
		t.Errorf("first entry = %#v, want string billing.create", impls[0].Value)
	}
	if m, ok := impls[1].Value.(map[string]any); !ok || m["node"] != "send" {
		t.Errorf("second entry = %#v, want mapping with node: send", impls[1].Value)
	}
}
