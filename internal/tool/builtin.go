package tool

import (
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/agentcore/internal/permission"
)

// Builtins returns the built-in tools.
func Builtins() []Tool {
	return []Tool{
		&ReadTool{},
		&WriteTool{},
		&EditTool{},
		&BashTool{},
		&SearchTool{},
		&ListTool{},
		NewWebFetchTool(nil),
	}
}

// RegisterBuiltins registers every built-in tool with reg.
func RegisterBuiltins(reg *Registry) error {
	for _, t := range Builtins() {
		if err := reg.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

// resolve makes p absolute against workDir.
func resolve(p, workDir string) string {
	if p == "" {
		p = "."
	}
	return permission.ResolvePath(p, workDir)
}

func fileKey(p, workDir string) string {
	return "file:" + resolve(p, workDir)
}

// pathAction describes a call that touches a single path.
func pathAction(p, workDir string, readOnly bool) permission.Action {
	return permission.Action{
		Paths:    []string{resolve(p, workDir)},
		WorkDir:  workDir,
		ReadOnly: readOnly,
	}
}
