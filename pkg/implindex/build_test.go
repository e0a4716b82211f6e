package implindex

import (
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/mpetrovici/flowctl/pkg/schema"
	"github.com/mpetrovici/flowctl/pkg/validate"
)

func billingFlow() *schema.Flow {
	return &schema.Flow{
		ID: "billing",
		Nodes: []schema.Node{
			{ID: "create", Status: "active"},
			{ID: "send", Status: "active"},
			{ID: "archive", Status: "draft"},
		},
		Edges: []schema.Edge{{From: "create", To: "send"}},
	}
}

func implements(v any) schema.ImplementsRef {
	return schema.ImplementsRef{Value: v}
}

func TestBuildAcceptsHistoricalSpellings(t *testing.T) {
	reg := &schema.Registry{Modules: []schema.Module{
		{ID: "svc", Interfaces: []schema.Interface{
			{ID: "create", Protocol: "http", Implements: []schema.ImplementsRef{
				implements("billing.create"),
			}},
			{ID: "send", Protocol: "http", Implements: []schema.ImplementsRef{
				implements(map[string]any{"flow_id": "billing", "nodeId": "send"}),
			}},
		}},
		{ID: "mailer", Interfaces: []schema.Interface{
			{ID: "send", Protocol: "http", Implements: []schema.ImplementsRef{
				implements(map[string]any{"target": "billing.send"}),
			}},
		}},
	}}

	ix, issues := Build([]*schema.Flow{billingFlow()}, reg)
	if validate.HasErrors(issues) {
		t.Fatalf("unexpected errors: %v", issues)
	}

	m := ix.Map()
	if got := m[schema.NodeRef{Flow: "billing", Node: "create"}]; len(got) != 1 || got[0].EndpointID != "svc:create" {
		t.Errorf("create impls = %+v", got)
	}
	send := m[schema.NodeRef{Flow: "billing", Node: "send"}]
	if len(send) != 2 {
		t.Fatalf("send impls = %+v, want 2", send)
	}
	// Sorted by endpoint id.
	if send[0].EndpointID != "mailer:send" || send[1].EndpointID != "svc:send" {
		t.Errorf("send impls out of order: %s, %s", send[0].EndpointID, send[1].EndpointID)
	}
}

func TestBuildDeduplicatesAndMergesVariants(t *testing.T) {
	reg := &schema.Registry{Modules: []schema.Module{
		{ID: "svc", Interfaces: []schema.Interface{
			{ID: "create", Protocol: "http", Variants: []string{"v2", "v1"}, Implements: []schema.ImplementsRef{
				implements("billing.create"),
				implements(map[string]any{"flow": "billing", "node": "create"}),
			}},
		}},
	}}

	ix, _ := Build([]*schema.Flow{billingFlow()}, reg)
	impls := ix.Map()[schema.NodeRef{Flow: "billing", Node: "create"}]
	if len(impls) != 1 {
		t.Fatalf("got %d impls, want 1 after dedup", len(impls))
	}
	if !reflect.DeepEqual(impls[0].Variants, []string{"v1", "v2"}) {
		t.Errorf("variants = %v, want sorted [v1 v2]", impls[0].Variants)
	}
}

func TestBuildReportsReferenceProblems(t *testing.T) {
	reg := &schema.Registry{Modules: []schema.Module{
		{ID: "svc", Interfaces: []schema.Interface{
			{ID: "a", Implements: []schema.ImplementsRef{implements("shipping.create")}},
			{ID: "b", Implements: []schema.ImplementsRef{implements("billing.refund")}},
			{ID: "c", Implements: []schema.ImplementsRef{implements(map[string]any{})}},
		}},
	}}

	_, issues := Build([]*schema.Flow{billingFlow()}, reg)
	errors, warnings := validate.Split(issues)
	if len(errors) != 2 {
		t.Errorf("got %d errors, want 2 (unknown flow, unknown node): %v", len(errors), errors)
	}
	// One missing-reference warning plus the no-implementation lint
	// warnings for the two active billing nodes.
	if len(warnings) != 3 {
		t.Errorf("got %d warnings, want 3: %v", len(warnings), warnings)
	}
}

func TestBuildLintsUnimplementedActiveNodes(t *testing.T) {
	reg := &schema.Registry{Modules: []schema.Module{
		{ID: "svc", Interfaces: []schema.Interface{
			{ID: "create", Implements: []schema.ImplementsRef{implements("billing.create")}},
		}},
	}}

	_, issues := Build([]*schema.Flow{billingFlow()}, reg)
	_, warnings := validate.Split(issues)
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
	// The draft "archive" node must not be linted, only the active "send".
	if want := "billing::send"; !strings.Contains(warnings[0].Message, want) {
		t.Errorf("lint warning %q does not mention %s", warnings[0].Message, want)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	reg := &schema.Registry{Modules: []schema.Module{
		{ID: "svc", Interfaces: []schema.Interface{
			{ID: "create", Variants: []string{"b", "a"}, Implements: []schema.ImplementsRef{implements("billing.create")}},
			{ID: "send", Implements: []schema.ImplementsRef{implements("billing.send")}},
		}},
		{ID: "mailer", Interfaces: []schema.Interface{
			{ID: "send", Implements: []schema.ImplementsRef{implements("billing.send")}},
		}},
	}}
	flows := []*schema.Flow{billingFlow()}

	first, _ := Build(flows, reg)
	second, _ := Build(flows, reg)

	a, err := yaml.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := yaml.Marshal(second)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("index output not byte-identical across rebuilds:\n%s\n---\n%s", a, b)
	}
}
