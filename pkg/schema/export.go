package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateFlowJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Flow struct using invopop/jsonschema.
func GenerateFlowJSONSchema() ([]byte, error) {
	return reflectSchema(&Flow{},
		"https://github.com/mpetrovici/flowctl/schemas/flow-v0.json",
		"Business Flow v0",
		"Schema for flowctl flow graph YAML documents (Draft 2020-12)")
}

// GenerateBindingJSONSchema produces the schema for binding documents.
func GenerateBindingJSONSchema() ([]byte, error) {
	return reflectSchema(&Binding{},
		"https://github.com/mpetrovici/flowctl/schemas/binding-v0.json",
		"Implementation Binding v0",
		"Schema for flowctl binding YAML documents (Draft 2020-12)")
}

// GenerateScenarioJSONSchema produces the schema for canonical (normalized)
// scenario documents. Raw scenario files may use historical field spellings
// and are normalized before this schema applies.
func GenerateScenarioJSONSchema() ([]byte, error) {
	return reflectSchema(&Scenario{},
		"https://github.com/mpetrovici/flowctl/schemas/scenario-v0.json",
		"Integration Scenario v0",
		"Schema for normalized flowctl scenario documents (Draft 2020-12)")
}

func reflectSchema(v any, id, title, description string) ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(v)
	s.ID = jsonschema.ID(id)
	s.Title = title
	s.Description = description

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
