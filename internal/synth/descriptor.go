// ABOUTME: Tool descriptor types - the JSON-Schema-shaped capability contract
// ABOUTME: advertised to the agent for each callable function.

package synth

import "encoding/json"

// Descriptor is the capability advertisement handed to the agent for one
// callable function. The wire shape follows the common function-calling
// convention: {"type":"function","function":{...}}.
type Descriptor struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function carries the name, description, and parameter schema of a tool.
// Parameters is kept as raw JSON so that schemas bridged verbatim from
// external providers survive round-trips unmodified.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Schema is the object-rooted parameter schema produced by the synthesizer.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ParamTypes is the closed set of property types a descriptor may carry.
// Anything outside this set maps to "string".
var ParamTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"object":  true,
	"array":   true,
	"null":    true,
}

// typeAliases maps common doc-comment spellings onto the fixed type set.
var typeAliases = map[string]string{
	"int":     "number",
	"integer": "number",
	"float":   "number",
	"double":  "number",
	"bool":    "boolean",
	"dict":    "object",
	"map":     "object",
	"list":    "array",
	"any":     "string",
}

// NormalizeType maps a declared parameter type onto the fixed type set,
// falling back to "string" for anything unrecognized.
func NormalizeType(t string) string {
	if ParamTypes[t] {
		return t
	}
	if mapped, ok := typeAliases[t]; ok {
		return mapped
	}
	return "string"
}

// EmptyObjectSchema returns the schema used when no parameter information is
// available: a bare {"type":"object","properties":{}}.
func EmptyObjectSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

// Schema decodes the function's parameter schema. Bridged descriptors may
// carry provider schemas richer than the synthesizer's own output; decoding
// only fails on malformed JSON.
func (f *Function) Schema() (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(f.Parameters, &s); err != nil {
		return nil, err
	}
	if s.Properties == nil {
		s.Properties = make(map[string]Property)
	}
	return &s, nil
}

// NewDescriptor assembles a descriptor from a name, description, and schema.
func NewDescriptor(name, description string, schema *Schema) (*Descriptor, error) {
	if schema.Properties == nil {
		schema.Properties = make(map[string]Property)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Type: "function",
		Function: Function{
			Name:        name,
			Description: description,
			Parameters:  raw,
		},
	}, nil
}
