package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Registry is the aggregated module-interface catalog. It is a derived
// document: an external collaborator assembles it from per-module manifests,
// flowctl only consumes it.
type Registry struct {
	GeneratedAt string   `yaml:"generated_at,omitempty" json:"generated_at,omitempty"`
	Modules     []Module `yaml:"modules"                json:"modules"`
}

// Module is one deployable unit exposing callable interfaces.
type Module struct {
	ID         string      `yaml:"id"                   json:"id"`
	Title      string      `yaml:"title,omitempty"      json:"title,omitempty"`
	Interfaces []Interface `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
}

// Interface is one concrete callable endpoint of a module.
type Interface struct {
	ID         string          `yaml:"id"                   json:"id"`
	Protocol   string          `yaml:"protocol,omitempty"   json:"protocol,omitempty"`
	Path       string          `yaml:"path,omitempty"       json:"path,omitempty"`
	Status     string          `yaml:"status,omitempty"     json:"status,omitempty"`
	Role       string          `yaml:"role,omitempty"       json:"role,omitempty"`
	Variants   []string        `yaml:"variants,omitempty"   json:"variants,omitempty"`
	Implements []ImplementsRef `yaml:"implements,omitempty" json:"implements,omitempty"`
}

// ImplementsRef is one declared fulfillment of a flow node. Module manifests
// have used both a structured {flow, node} form (with several key spellings)
// and a compound "<flow>.<node>" string; the raw value is kept as decoded and
// interpreted by the index builder.
type ImplementsRef struct {
	Value any
}

// UnmarshalYAML accepts either a scalar string or a mapping.
func (r *ImplementsRef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		r.Value = s
	case yaml.MappingNode:
		var m map[string]any
		if err := value.Decode(&m); err != nil {
			return err
		}
		r.Value = m
	default:
		return fmt.Errorf("implements entry must be a string or a mapping (line %d)", value.Line)
	}
	return nil
}

// MarshalYAML round-trips the raw value.
func (r ImplementsRef) MarshalYAML() (any, error) {
	return r.Value, nil
}

// LoadRegistryFile reads the module-interface registry. The registry is a
// derived document so decoding is lenient: unknown fields from newer
// aggregators are ignored rather than rejected.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("load registry: decode: %w", err)
	}
	return &reg, nil
}
