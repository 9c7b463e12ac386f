package testutil

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentcore/internal/provider"
)

// CommandScript answers prompts the way the e2e suite drives the model:
//
//	write <path> <content>   calls the write tool, then reports its output
//	<anything else>          echoes the prompt back as "echo: <prompt>"
func CommandScript() provider.Script {
	return func(_ int, req *provider.Request) provider.Turn {
		if len(req.Messages) == 0 {
			return provider.Text("")
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role == schema.Tool {
			return provider.Text("done: " + last.Content)
		}

		prompt := strings.TrimSpace(last.Content)
		if rest, ok := strings.CutPrefix(prompt, "write "); ok {
			path, content, _ := strings.Cut(rest, " ")
			return provider.ToolCalls(provider.Call("write", map[string]any{
				"path":    path,
				"content": content,
			}))
		}
		return provider.Text("echo: " + prompt)
	}
}
