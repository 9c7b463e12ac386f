package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/agentcore/internal/permission"
)

const (
	maxSearchFiles   = 100
	maxSearchMatches = 100
)

const searchDescription = `Searches the project for files and content.

Usage:
- path is the directory to search (default: working directory)
- glob filters files by a doublestar pattern such as "**/*.go"
- pattern is a regular expression matched against each line
- Without pattern the matching file paths are returned, newest first
- With pattern matching lines are returned as path:line: text`

// SearchTool finds files by glob and lines by regular expression.
type SearchTool struct{}

type searchInput struct {
	Path    string `json:"path,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Glob    string `json:"glob,omitempty"`
}

func (t *SearchTool) Definition() Definition {
	return Definition{
		Name:        "search",
		Description: searchDescription,
		ReadOnly:    true,
		Parameters: []Parameter{
			{Name: "path", Type: TypeString, Description: "Directory to search in"},
			{Name: "pattern", Type: TypeString, Description: "Regular expression to search file contents for"},
			{Name: "glob", Type: TypeString, Description: `File filter, e.g. "**/*.ts"`},
		},
	}
}

func (t *SearchTool) Action(input json.RawMessage, workDir string) permission.Action {
	var in searchInput
	_ = decode(input, &in)
	return pathAction(in.Path, workDir, true)
}

type foundFile struct {
	rel     string
	modTime int64
}

func (t *SearchTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in searchInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	root := resolve(in.Path, tc.WorkDir)

	var re *regexp.Regexp
	if in.Pattern != "" {
		var err error
		if re, err = regexp.Compile(in.Pattern); err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
	}
	if in.Glob != "" && !doublestar.ValidatePattern(in.Glob) {
		return nil, fmt.Errorf("invalid glob: %s", in.Glob)
	}

	files, err := walkFiles(ctx, root, in.Glob)
	if err != nil {
		return nil, err
	}

	if re == nil {
		return fileResult(root, in, files), nil
	}
	return grepFiles(ctx, root, in, re, files)
}

func walkFiles(ctx context.Context, root, glob string) ([]foundFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("search path not found: %s", root)
	}
	if !info.IsDir() {
		return []foundFile{{rel: filepath.Base(root), modTime: info.ModTime().UnixNano()}}, nil
	}

	var files []foundFile
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
		if ignored(rel, d.IsDir(), nil) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if glob != "" {
			ok, _ := doublestar.Match(glob, rel)
			if !ok {
				ok, _ = doublestar.Match(glob, filepath.Base(rel))
			}
			if !ok {
				return nil
			}
		}
		var mod int64
		if fi, err := d.Info(); err == nil {
			mod = fi.ModTime().UnixNano()
		}
		files = append(files, foundFile{rel: rel, modTime: mod})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func fileResult(root string, in searchInput, files []foundFile) *Result {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime != files[j].modTime {
			return files[i].modTime > files[j].modTime
		}
		return files[i].rel < files[j].rel
	})
	total := len(files)
	truncated := total > maxSearchFiles
	if truncated {
		files = files[:maxSearchFiles]
	}

	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, f.rel)
	}
	output := strings.Join(lines, "\n")
	switch {
	case total == 0:
		output = "No files found"
	case truncated:
		output += fmt.Sprintf("\n\n(Showing %d of %d files)", maxSearchFiles, total)
	}

	return &Result{
		Title:  root,
		Output: output,
		Metadata: map[string]any{
			"glob":      in.Glob,
			"count":     total,
			"files":     lines,
			"truncated": truncated,
		},
	}
}

func grepFiles(ctx context.Context, root string, in searchInput, re *regexp.Regexp, files []foundFile) (*Result, error) {
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	base := root
	if fi, err := os.Stat(root); err == nil && !fi.IsDir() {
		base = filepath.Dir(root)
	}

	var matches []string
	matchedFiles := 0
	truncated := false
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(base, filepath.FromSlash(f.rel))
		if isBinaryFile(path) {
			continue
		}
		found, err := grepFile(path, f.rel, re, maxSearchMatches-len(matches))
		if err != nil {
			continue
		}
		if len(found) > 0 {
			matchedFiles++
			matches = append(matches, found...)
		}
		if len(matches) >= maxSearchMatches {
			truncated = true
			break
		}
	}

	output := strings.Join(matches, "\n")
	if len(matches) == 0 {
		output = "No matches found"
	} else if truncated {
		output += fmt.Sprintf("\n\n(Showing the first %d matches)", maxSearchMatches)
	}
	return &Result{
		Title:  in.Pattern,
		Output: output,
		Metadata: map[string]any{
			"pattern":   in.Pattern,
			"glob":      in.Glob,
			"matches":   len(matches),
			"files":     matchedFiles,
			"truncated": truncated,
		},
	}, nil
}

func grepFile(path, rel string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() && len(out) < limit {
		n++
		line := scanner.Text()
		if re.MatchString(line) {
			if len(line) > maxLineLength {
				line = line[:maxLineLength] + "..."
			}
			out = append(out, fmt.Sprintf("%s:%d: %s", rel, n, line))
		}
	}
	return out, scanner.Err()
}
