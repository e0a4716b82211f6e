package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mpetrovici/flowctl/pkg/schema"
)

// validateSemantic checks loaded documents against the JSON Schemas
// generated from the Go struct types. Flows and bindings are validated as
// authored; scenarios are validated in canonical form, after the normalizer
// has folded historical spellings away.
func validateSemantic(in *Inputs) []*ValidationError {
	var errs []*ValidationError

	flowSchema, err := schema.GenerateFlowJSONSchema()
	if err != nil {
		return []*ValidationError{Errorf("semantic", "", "generate flow schema: %v", err)}
	}
	bindingSchema, err := schema.GenerateBindingJSONSchema()
	if err != nil {
		return []*ValidationError{Errorf("semantic", "", "generate binding schema: %v", err)}
	}
	scenarioSchema, err := schema.GenerateScenarioJSONSchema()
	if err != nil {
		return []*ValidationError{Errorf("semantic", "", "generate scenario schema: %v", err)}
	}

	for _, f := range in.Flows {
		errs = append(errs, validateAgainstSchema(f, flowSchema, "flow-v0.json", "flows["+f.ID+"]")...)
	}
	for _, b := range in.Bindings {
		errs = append(errs, validateAgainstSchema(b, bindingSchema, "binding-v0.json", "bindings["+b.ID+"]")...)
	}
	for _, sc := range in.Scenarios {
		errs = append(errs, validateAgainstSchema(sc, scenarioSchema, "scenario-v0.json", "scenarios["+sc.ID+"]")...)
	}
	return errs
}

// validateAgainstSchema round-trips a document through JSON and evaluates it
// against a compiled schema, flattening nested causes into flat entries.
func validateAgainstSchema(doc any, schemaJSON []byte, resource, docPath string) []*ValidationError {
	data, err := json.Marshal(doc)
	if err != nil {
		return []*ValidationError{Errorf("semantic", docPath, "marshal for schema validation: %v", err)}
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{Errorf("semantic", docPath, "unmarshal schema: %v", err)}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return []*ValidationError{Errorf("semantic", docPath, "add schema resource: %v", err)}
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return []*ValidationError{Errorf("semantic", docPath, "compile schema: %v", err)}
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return []*ValidationError{Errorf("semantic", docPath, "unmarshal document: %v", err)}
	}

	if err := sch.Validate(instance); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				instancePath := strings.Join(cause.InstanceLocation, "/")
				errs = append(errs, Errorf("semantic",
					joinPath(docPath, instancePath), "%v", cause.ErrorKind))
			}
		} else {
			errs = append(errs, Errorf("semantic", docPath, "%s", err.Error()))
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

func joinPath(docPath, instancePath string) string {
	if instancePath == "" {
		return docPath
	}
	return fmt.Sprintf("%s/%s", docPath, instancePath)
}
