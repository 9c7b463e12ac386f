package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencode-ai/agentcore/internal/tool"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"sum", "sum"},
		{"calculator-sse", "calculator_sse"},
		{"read.file", "read_file"},
		{"a b/c", "a_b_c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeToolName(tt.in), tt.in)
	}
}

func TestParameters(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"numbers": {"type": "array", "items": {"type": "number"}, "description": "values"},
			"mode": {"type": "string", "enum": ["fast", "exact"]},
			"limit": {"type": ["integer", "null"]},
			"weird": {"type": "tuple"}
		},
		"required": ["numbers"]
	}`)

	params := Parameters(schema)
	assert.Equal(t, []tool.Parameter{
		{Name: "limit", Type: tool.TypeInteger},
		{Name: "mode", Type: tool.TypeString, Enum: []string{"fast", "exact"}},
		{Name: "numbers", Type: tool.TypeArray, Items: tool.TypeNumber, Description: "values", Required: true},
		{Name: "weird", Type: tool.TypeString},
	}, params)

	assert.Nil(t, Parameters(nil))
	assert.Nil(t, Parameters(json.RawMessage(`not json`)))
	assert.Empty(t, Parameters(json.RawMessage(`{"type":"object"}`)))
}

func TestDefinition(t *testing.T) {
	def := Definition(Tool{
		Name:        "calc_sum",
		Description: "adds",
		InputSchema: json.RawMessage(`{"properties":{"a":{"type":"number"}}}`),
	})
	assert.Equal(t, "calc_sum", def.Name)
	assert.False(t, def.ReadOnly)
	assert.Len(t, def.Parameters, 1)
}
