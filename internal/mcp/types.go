package mcp

import (
	"encoding/json"
	"sort"

	"github.com/opencode-ai/agentcore/internal/tool"
)

// Status represents the connection status of a server.
type Status string

const (
	StatusConnected Status = "connected"
	StatusDisabled  Status = "disabled"
	StatusFailed    Status = "failed"
)

// Tool is a tool offered by a server, under its registry name.
type Tool struct {
	Name        string          `json:"name"`
	Server      string          `json:"server"`
	Remote      string          `json:"remote"` // name on the server
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ServerStatus represents the status of a server.
type ServerStatus struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Version   string `json:"version,omitempty"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

// inputSchema is the subset of JSON Schema tool definitions are built from.
type inputSchema struct {
	Properties map[string]struct {
		Type        any      `json:"type"`
		Description string   `json:"description"`
		Enum        []string `json:"enum"`
		Items       *struct {
			Type any `json:"type"`
		} `json:"items"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// Parameters converts a tool's JSON Schema to registry parameters, sorted by
// name. Properties with a type the registry does not know become strings.
func Parameters(schemaJSON json.RawMessage) []tool.Parameter {
	var s inputSchema
	if len(schemaJSON) == 0 || json.Unmarshal(schemaJSON, &s) != nil {
		return nil
	}

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	params := make([]tool.Parameter, 0, len(s.Properties))
	for name, prop := range s.Properties {
		p := tool.Parameter{
			Name:        name,
			Type:        schemaType(prop.Type),
			Description: prop.Description,
			Required:    required[name],
			Enum:        prop.Enum,
		}
		if p.Type == tool.TypeArray && prop.Items != nil {
			p.Items = schemaType(prop.Items.Type)
		}
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// schemaType maps a JSON Schema "type", which may be a list such as
// ["string", "null"], to a registry type.
func schemaType(v any) string {
	switch t := v.(type) {
	case string:
		switch t {
		case tool.TypeString, tool.TypeInteger, tool.TypeNumber, tool.TypeBoolean, tool.TypeArray, tool.TypeObject:
			return t
		}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && s != "null" {
				return schemaType(s)
			}
		}
	}
	return tool.TypeString
}
