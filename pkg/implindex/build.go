// Package implindex derives the implementation index: for every node of
// every flow, the list of registry endpoints declaring that they implement
// it. The index is a derived artifact — rebuilt wholesale on each build and
// sorted deterministically so identical inputs produce identical bytes.
package implindex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mpetrovici/flowctl/pkg/schema"
	"github.com/mpetrovici/flowctl/pkg/validate"
)

// Key spellings accepted in structured implements entries. Older module
// manifests used several names for the same logical field; the ordered
// list is consulted first-match-wins.
var (
	flowAliases     = []string{"flow", "flow_id", "flowId", "process"}
	nodeAliases     = []string{"node", "node_id", "nodeId", "step"}
	compoundAliases = []string{"ref", "target", "implements"}
)

// Build derives the index from the flow graphs and the module registry.
// Implementations are accumulated per (flow, node), deduplicated by endpoint
// id with variant tags merged into a sorted set and the first non-empty role
// kept. Returns the sorted index plus accumulated errors and warnings:
// unknown flow/node references are errors, missing references are warnings,
// and an active/stable node with zero implementations is a lint warning.
func Build(flows []*schema.Flow, reg *schema.Registry) (*schema.Index, []*validate.ValidationError) {
	var issues []*validate.ValidationError

	flowsByID := make(map[string]*schema.Flow, len(flows))
	for _, f := range flows {
		flowsByID[f.ID] = f
	}

	// (flow, node) → endpoint id → accumulated implementation
	acc := make(map[schema.NodeRef]map[string]*schema.Implementation)

	for mi, mod := range reg.Modules {
		for ii, iface := range mod.Interfaces {
			endpointID := schema.EndpointID(mod.ID, iface.ID)
			for ri, ref := range iface.Implements {
				path := fmt.Sprintf("modules[%d].interfaces[%d].implements[%d]", mi, ii, ri)

				nodeRef, ok := normalizeRef(ref.Value)
				if !ok {
					issues = append(issues, validate.Warningf("domain", path,
						"interface %s declares an implements entry with no flow/node reference", endpointID))
					continue
				}

				flow, exists := flowsByID[nodeRef.Flow]
				if !exists {
					issues = append(issues, validate.Errorf("domain", path,
						"interface %s implements unknown flow %q", endpointID, nodeRef.Flow))
					continue
				}
				if !flow.HasNode(nodeRef.Node) {
					issues = append(issues, validate.Errorf("domain", path,
						"interface %s implements unknown node %q in flow %q", endpointID, nodeRef.Node, nodeRef.Flow))
					continue
				}

				byEndpoint := acc[nodeRef]
				if byEndpoint == nil {
					byEndpoint = make(map[string]*schema.Implementation)
					acc[nodeRef] = byEndpoint
				}
				impl := byEndpoint[endpointID]
				if impl == nil {
					impl = &schema.Implementation{
						EndpointID:  endpointID,
						ModuleID:    mod.ID,
						InterfaceID: iface.ID,
						Protocol:    iface.Protocol,
						Status:      iface.Status,
						Role:        iface.Role,
					}
					byEndpoint[endpointID] = impl
				}
				if impl.Role == "" && iface.Role != "" {
					impl.Role = iface.Role
				}
				impl.Variants = mergeVariants(impl.Variants, iface.Variants)
			}
		}
	}

	ix := &schema.Index{}
	for ref, byEndpoint := range acc {
		impls := make([]schema.Implementation, 0, len(byEndpoint))
		for _, impl := range byEndpoint {
			impls = append(impls, *impl)
		}
		sort.Slice(impls, func(i, j int) bool { return impls[i].EndpointID < impls[j].EndpointID })
		ix.Entries = append(ix.Entries, schema.IndexEntry{
			Flow:            ref.Flow,
			Node:            ref.Node,
			Implementations: impls,
		})
	}
	sort.Slice(ix.Entries, func(i, j int) bool {
		if ix.Entries[i].Flow != ix.Entries[j].Flow {
			return ix.Entries[i].Flow < ix.Entries[j].Flow
		}
		return ix.Entries[i].Node < ix.Entries[j].Node
	})

	// Lint: a node the flow graph marks live should have at least one
	// implementation. Signal, not a hard error.
	for _, f := range flows {
		for _, n := range f.Nodes {
			if n.Status != "active" && n.Status != "stable" {
				continue
			}
			ref := schema.NodeRef{Flow: f.ID, Node: n.ID}
			if len(acc[ref]) == 0 {
				issues = append(issues, validate.Warningf("domain",
					fmt.Sprintf("flows[%s].nodes[%s]", f.ID, n.ID),
					"%s node %s has no implementations", n.Status, ref))
			}
		}
	}

	return ix, issues
}

// normalizeRef interprets one implements entry. Accepted shapes:
//   - compound string "<flow>.<node>"
//   - mapping with flow/node keys (several historical spellings)
//   - mapping with a compound ref/target key
func normalizeRef(v any) (schema.NodeRef, bool) {
	switch val := v.(type) {
	case string:
		return splitCompound(val)
	default:
		m, ok := schema.AsMap(v)
		if !ok {
			return schema.NodeRef{}, false
		}
		flow, _ := schema.FirstAlias(m, flowAliases...)
		node, _ := schema.FirstAlias(m, nodeAliases...)
		if flow != "" && node != "" {
			return schema.NodeRef{Flow: flow, Node: node}, true
		}
		if compound, ok := schema.FirstAlias(m, compoundAliases...); ok {
			return splitCompound(compound)
		}
		return schema.NodeRef{}, false
	}
}

// splitCompound parses "<flow>.<node>". The flow id never contains a dot;
// everything after the first dot is the node id.
func splitCompound(s string) (schema.NodeRef, bool) {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ".")
	if i <= 0 || i == len(s)-1 {
		return schema.NodeRef{}, false
	}
	return schema.NodeRef{Flow: s[:i], Node: s[i+1:]}, true
}

func mergeVariants(existing, add []string) []string {
	if len(add) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing)+len(add))
	for _, v := range existing {
		seen[v] = true
	}
	merged := append([]string(nil), existing...)
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		merged = append(merged, v)
	}
	sort.Strings(merged)
	return merged
}
