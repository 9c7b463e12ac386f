package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/agentcore/internal/permission"
)

// maxListEntries caps the entries a list call returns.
const maxListEntries = 1000

// defaultIgnore holds directory names skipped by list and search.
var defaultIgnore = []string{
	"node_modules",
	"__pycache__",
	".git",
	"dist",
	"build",
	"target",
	"vendor",
	"bin",
	"obj",
	".idea",
	".vscode",
	".zig-cache",
	"zig-out",
	"coverage",
	"tmp",
	"temp",
	".cache",
	"cache",
	"logs",
	".venv",
	"venv",
	"env",
}

const listDescription = `Lists files and directories as a tree.

Usage:
- path defaults to the working directory
- Common build, cache and dependency directories are skipped
- ignore takes extra glob patterns, matched against paths relative to path`

// ListTool prints a directory tree.
type ListTool struct{}

type listInput struct {
	Path   string   `json:"path,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
}

func (t *ListTool) Definition() Definition {
	return Definition{
		Name:        "list",
		Description: listDescription,
		ReadOnly:    true,
		Parameters: []Parameter{
			{Name: "path", Type: TypeString, Description: "Directory to list (default: working directory)"},
			{Name: "ignore", Type: TypeArray, Items: TypeString, Description: "Glob patterns to skip"},
		},
	}
}

func (t *ListTool) Action(input json.RawMessage, workDir string) permission.Action {
	var in listInput
	_ = decode(input, &in)
	return pathAction(in.Path, workDir, true)
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in listInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	root := resolve(in.Path, tc.WorkDir)

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", in.Path)
	}

	var entries []string
	truncated := false
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if ignored(rel, d.IsDir(), in.Ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= maxListEntries {
			truncated = true
			return filepath.SkipAll
		}
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	var sb strings.Builder
	sb.WriteString(root + "/\n")
	for _, e := range entries {
		trimmed := strings.TrimSuffix(e, "/")
		depth := strings.Count(trimmed, "/")
		name := filepath.Base(trimmed)
		if strings.HasSuffix(e, "/") {
			name += "/"
		}
		sb.WriteString(strings.Repeat("  ", depth+1))
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&sb, "\n(Showing the first %d entries)\n", maxListEntries)
	}

	return &Result{
		Title:  root,
		Output: sb.String(),
		Metadata: map[string]any{
			"path":      root,
			"count":     len(entries),
			"truncated": truncated,
		},
	}, nil
}

// ignored reports whether rel (slash or OS separated, relative to the walk
// root) is skipped by the default list or by one of extra.
func ignored(rel string, isDir bool, extra []string) bool {
	rel = filepath.ToSlash(rel)
	if isDir {
		name := filepath.Base(rel)
		for _, d := range defaultIgnore {
			if name == d {
				return true
			}
		}
	}
	for _, pattern := range extra {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if isDir {
			if ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/"), rel); ok {
				return true
			}
		}
	}
	return false
}
