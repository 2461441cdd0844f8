package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"planforge/vm"
)

// compileSchema compiles a raw JSON Schema document the way the teacher's
// registry service compiles tool payload schemas: decode to an any, add it
// as an in-memory resource, compile. A nil/empty document compiles to a nil
// schema, meaning "no constraint" (the registry does not require every tool
// to publish a schema).
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tools: unmarshal param schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", doc); err != nil {
		return nil, fmt.Errorf("tools: add schema resource: %w", err)
	}
	schema, err := c.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("tools: compile param schema: %w", err)
	}
	return schema, nil
}

// validateParams checks args against schema, if one was registered for the
// tool (§4.2: a tool "schema" names its required arguments; ParamSchema lets
// callers tighten that to a full JSON Schema, validated pre-dispatch).
func validateParams(schema *jsonschema.Schema, args map[string]vm.Value) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tools: marshal args for schema validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tools: unmarshal args for schema validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tool_params failed schema validation: %w", err)
	}
	return nil
}
