package planner

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaDoc is the structural JSON Schema for the §6 plan wire shape:
// an object of instructions, each with a seq_no, a type drawn from the four
// instruction kinds, and a parameters object. It catches malformed LLM
// replies (wrong types, missing seq_no, an invented instruction kind)
// before the instruction-specific vm.Instruction.UnmarshalJSON even runs,
// the same role the teacher's registry service gives jsonschema over tool
// payloads.
const planSchemaDoc = `{
  "type": "object",
  "required": ["instructions"],
  "properties": {
    "instructions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["seq_no", "type", "parameters"],
        "properties": {
          "seq_no": {"type": "integer"},
          "type": {"enum": ["reasoning", "assign", "calling", "jmp"]},
          "parameters": {"type": "object"}
        }
      }
    }
  }
}`

var planSchema = mustCompilePlanSchema()

func mustCompilePlanSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(planSchemaDoc), &doc); err != nil {
		panic(fmt.Sprintf("planner: invalid plan schema literal: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(fmt.Sprintf("planner: add plan schema resource: %v", err))
	}
	schema, err := c.Compile("plan.json")
	if err != nil {
		panic(fmt.Sprintf("planner: compile plan schema: %v", err))
	}
	return schema
}

// validatePlanJSON checks raw, an LLM reply expected to be the §6 plan wire
// shape, against planSchema before it is unmarshaled into a *vm.Plan.
func validatePlanJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("planner: reply is not valid JSON: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return fmt.Errorf("planner: reply does not match plan shape: %w", err)
	}
	return nil
}
