package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencode-ai/agentcore/internal/permission"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- path may be absolute or relative to the working directory
- Existing files are overwritten
- Parent directories are created as needed
- Prefer edit for changing existing files`

// WriteTool creates or overwrites files.
type WriteTool struct{}

type writeInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteTool) Definition() Definition {
	return Definition{
		Name:        "write",
		Description: writeDescription,
		Parameters: []Parameter{
			{Name: "path", Type: TypeString, Required: true, Description: "The path of the file to write"},
			{Name: "content", Type: TypeString, Required: true, Description: "The content to write to the file"},
		},
	}
}

func (t *WriteTool) ResourceKeys(input json.RawMessage, workDir string) []string {
	var in writeInput
	if decode(input, &in) != nil || in.Path == "" {
		return nil
	}
	return []string{fileKey(in.Path, workDir)}
}

func (t *WriteTool) Action(input json.RawMessage, workDir string) permission.Action {
	var in writeInput
	_ = decode(input, &in)
	return pathAction(in.Path, workDir, false)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in writeInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := resolve(in.Path, tc.WorkDir)

	before, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read existing file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	verb := "Created"
	if existed {
		verb = "Overwrote"
	}
	diff := diffFiles(path, tc.WorkDir, string(before), in.Content)
	return &Result{
		Title:  filepath.Base(path),
		Output: fmt.Sprintf("%s %s (%d bytes)", verb, path, len(in.Content)),
		Metadata: diff.metadata(map[string]any{
			"path":    path,
			"bytes":   len(in.Content),
			"existed": existed,
		}),
	}, nil
}
