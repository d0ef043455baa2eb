package llm

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool declares a function the model may call. Parameters is a JSON Schema
// object describing the arguments.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is the model's request to invoke a declared tool. Arguments is the
// raw JSON argument object as produced by the vendor.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalArguments decodes the call arguments into target.
func (c ToolCall) UnmarshalArguments(target any) error {
	return json.Unmarshal([]byte(c.Arguments), target)
}

// ToolFromStruct derives a Tool whose parameter schema is reflected from the
// struct type T, so callers declare tool contracts as plain Go types.
func ToolFromStruct[T any](name, description string) (Tool, error) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}

	var target T
	schema := reflector.Reflect(&target)

	data, err := schema.MarshalJSON()
	if err != nil {
		return Tool{}, fmt.Errorf("marshal tool schema for %s: %w", name, err)
	}

	var parameters map[string]any
	if err := json.Unmarshal(data, &parameters); err != nil {
		return Tool{}, fmt.Errorf("decode tool schema for %s: %w", name, err)
	}
	delete(parameters, "$schema")
	delete(parameters, "$id")

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
	}, nil
}
