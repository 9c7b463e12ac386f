package mcp

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/tool"
)

// handler runs one MCP tool through the client.
type handler struct {
	client *Client
	tool   Tool
}

func (h *handler) Execute(ctx context.Context, input json.RawMessage, _ *tool.Context) (*tool.Result, error) {
	output, err := h.client.CallTool(ctx, h.tool.Name, input)
	if err != nil {
		return nil, err
	}
	return &tool.Result{
		Title:  h.tool.Server + ": " + h.tool.Remote,
		Output: output,
		Metadata: map[string]any{
			"server": h.tool.Server,
		},
	}, nil
}

// Definition returns the registry definition of t.
func Definition(t Tool) tool.Definition {
	return tool.Definition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  Parameters(t.InputSchema),
	}
}

// RegisterTools registers every tool of the client's connected servers.
// A tool whose name is already registered is skipped.
func RegisterTools(client *Client, registry *tool.Registry) error {
	for _, t := range client.Tools() {
		if _, ok := registry.Get(t.Name); ok {
			logging.Warn().Str("tool", t.Name).Str("server", t.Server).Msg("mcp tool shadows a registered tool, skipping")
			continue
		}
		if err := registry.Register(Definition(t), &handler{client: client, tool: t}); err != nil {
			return err
		}
	}
	return nil
}
