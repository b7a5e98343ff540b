package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// GenerateSchema reflects a Go argument type into the map[string]any
// shape Definition.Parameters expects, using struct tags
// (`json:"name"`, `jsonschema:"required,description=..."`). Built-in
// tools declare a Go args struct and never hand-write JSON Schema.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// Validator checks parsed tool arguments against a tool's declared
// schema before invocation (spec 9, "Dynamic tool arguments").
type Validator struct {
	compiled *jsonschemav5.Schema
}

// NewValidator compiles schema (a map[string]any produced by
// GenerateSchema or hand-authored) into a reusable Validator.
func NewValidator(schema map[string]any) (*Validator, error) {
	if len(schema) == 0 {
		return &Validator{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschemav5.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{compiled: compiled}, nil
}

// Validate reports a human-readable error if args does not satisfy the
// schema. A Validator built from an empty schema always succeeds.
func (v *Validator) Validate(args map[string]any) error {
	if v == nil || v.compiled == nil {
		return nil
	}
	if err := v.compiled.Validate(args); err != nil {
		return err
	}
	return nil
}

