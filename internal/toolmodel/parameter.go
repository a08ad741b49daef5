// Package toolmodel converts an MCP tool's JSON Schema inputSchema into a
// host-neutral, recursive Parameter tree, and emits that tree back out as
// provider-specific schemas for an LLM client.
package toolmodel

import (
	"encoding/json"
	"fmt"
	"sort"

	"loom-mcp/internal/protocol"
)

// Parameter is one property of a tool's input schema. items and properties
// are populated only for "array" and "object" respectively; the tree forms
// a DAG rooted at each tool, never a cycle.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Items       json.RawMessage
	Properties  map[string]*Parameter
}

// Tool is the host-neutral descriptor produced once from a tools/list
// entry and cached until an explicit refresh.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]*Parameter
}

// rawSchema is the loosest shape a JSON Schema fragment can take; used to
// walk inputSchema without committing to a fixed Go type up front.
type rawSchema struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description"`
	Items       json.RawMessage            `json:"items,omitempty"`
	Properties  map[string]json.RawMessage `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
}

// BuildTool converts one tools/list entry into a Tool descriptor.
func BuildTool(desc protocol.ToolDescription) (*Tool, error) {
	if len(desc.InputSchema) == 0 {
		return &Tool{Name: desc.Name, Description: desc.Description}, nil
	}
	var schema rawSchema
	if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
		return nil, fmt.Errorf("toolmodel: decode inputSchema for %q: %w", desc.Name, err)
	}
	params, err := buildProperties(schema.Properties, schema.Required)
	if err != nil {
		return nil, fmt.Errorf("toolmodel: build parameters for %q: %w", desc.Name, err)
	}
	return &Tool{Name: desc.Name, Description: desc.Description, Parameters: params}, nil
}

func buildProperties(props map[string]json.RawMessage, required []string) (map[string]*Parameter, error) {
	if len(props) == 0 {
		return nil, nil
	}
	requiredSet := make(map[string]bool, len(required))
	for _, name := range required {
		requiredSet[name] = true
	}
	out := make(map[string]*Parameter, len(props))
	for name, raw := range props {
		p, err := buildParameter(name, raw, requiredSet[name])
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

func buildParameter(name string, raw json.RawMessage, required bool) (*Parameter, error) {
	var schema rawSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("property %q: %w", name, err)
	}
	p := &Parameter{
		Name:        name,
		Type:        schema.Type,
		Description: schema.Description,
		Required:    required,
	}
	switch schema.Type {
	case "array":
		p.Items = schema.Items
	case "object":
		nested, err := buildProperties(schema.Properties, schema.Required)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		p.Properties = nested
	}
	return p, nil
}

// Emit recursively produces {type, description, items?, properties?} for a
// single Parameter, dropping absent fields. Pure function of p.
func Emit(p *Parameter) map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	switch p.Type {
	case "array":
		if len(p.Items) > 0 {
			var items any
			if err := json.Unmarshal(p.Items, &items); err == nil {
				out["items"] = items
			}
		}
	case "object":
		if len(p.Properties) > 0 {
			props := make(map[string]any, len(p.Properties))
			for key, child := range p.Properties {
				props[key] = Emit(child)
			}
			out["properties"] = props
		}
	}
	return out
}

// EmitMap produces the object schema {type:"object", properties, required}
// for a tool's top-level parameter map. Shared by both the OpenAI and
// Anthropic emitters, which differ only in what wraps this shape.
func EmitMap(params map[string]*Parameter) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		props[name] = Emit(p)
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}
