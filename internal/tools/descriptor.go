// Package tools holds the remote-tool catalog advertised by the peripheral
// in reply to a tools/list request.
package tools

import (
	"encoding/json"
	"fmt"
)

// Parameter types understood by the editor when it builds parameter forms.
const (
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeString  = "string"
	TypeEnum    = "enum"
)

// Descriptor describes one remotely invokable tool.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema Schema `json:"inputSchema"`
}

// Schema is the subset of JSON Schema the peripheral uses for tool input.
type Schema struct {
	Type       string              `json:"type,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single tool parameter.
type Property struct {
	Type        string `json:"type,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParamType returns the editor-facing parameter type. A property with enum
// values is an enum regardless of its declared type.
func (p Property) ParamType() string {
	if len(p.Enum) > 0 {
		return TypeEnum
	}
	if p.Type == "" {
		return TypeString
	}
	return p.Type
}

// HasDefault reports whether the property declares a default value.
func (p Property) HasDefault() bool {
	return p.Default != nil
}

// ParseListResult decodes the result member of a tools/list response.
// ok is false when the result carries no "tools" member, meaning it is the
// result of some other request.
func ParseListResult(raw json.RawMessage) (tools []Descriptor, ok bool, err error) {
	var probe struct {
		Tools json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false, fmt.Errorf("tools: decode list result: %w", err)
	}
	if len(probe.Tools) == 0 || string(probe.Tools) == "null" {
		return nil, false, nil
	}
	if err := json.Unmarshal(probe.Tools, &tools); err != nil {
		return nil, true, fmt.Errorf("tools: decode tool descriptors: %w", err)
	}
	if tools == nil {
		tools = []Descriptor{}
	}
	return tools, true, nil
}
