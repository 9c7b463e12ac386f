package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/opencode-ai/agentcore/internal/permission"
)

// minSimilarity is the lowest Levenshtein similarity accepted for a fuzzy edit.
const minSimilarity = 0.7

const editDescription = `Performs string replacements in a file.

Usage:
- path may be absolute or relative to the working directory
- oldString must appear in the file exactly once unless replaceAll is set
- When no exact match exists the closest block of the same line count is
  replaced if it is similar enough
- newString must differ from oldString`

// EditTool replaces text in existing files.
type EditTool struct{}

type editInput struct {
	Path       string `json:"path"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

func (t *EditTool) Definition() Definition {
	return Definition{
		Name:        "edit",
		Description: editDescription,
		Parameters: []Parameter{
			{Name: "path", Type: TypeString, Required: true, Description: "The path of the file to edit"},
			{Name: "oldString", Type: TypeString, Required: true, Description: "The text to replace"},
			{Name: "newString", Type: TypeString, Required: true, Description: "The replacement text"},
			{Name: "replaceAll", Type: TypeBoolean, Description: "Replace every occurrence (default false)"},
		},
	}
}

func (t *EditTool) ResourceKeys(input json.RawMessage, workDir string) []string {
	var in editInput
	if decode(input, &in) != nil || in.Path == "" {
		return nil
	}
	return []string{fileKey(in.Path, workDir)}
}

func (t *EditTool) Action(input json.RawMessage, workDir string) permission.Action {
	var in editInput
	_ = decode(input, &in)
	return pathAction(in.Path, workDir, false)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in editInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if in.OldString == in.NewString {
		return nil, errors.New("oldString and newString must differ")
	}
	if in.OldString == "" {
		return nil, errors.New("oldString must not be empty")
	}
	path := resolve(in.Path, tc.WorkDir)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	before := string(content)

	after, count, mode, err := replace(before, in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	diff := diffFiles(path, tc.WorkDir, before, after)
	return &Result{
		Title:  filepath.Base(path),
		Output: fmt.Sprintf("Replaced %d occurrence(s) in %s", count, path),
		Metadata: diff.metadata(map[string]any{
			"path":         path,
			"replacements": count,
			"match":        mode,
		}),
	}, nil
}

// replace applies the edit to text. mode reports how oldString was found:
// exact, normalized (line endings) or fuzzy.
func replace(text string, in editInput) (out string, count int, mode string, err error) {
	if n := strings.Count(text, in.OldString); n > 0 {
		if in.ReplaceAll {
			return strings.ReplaceAll(text, in.OldString, in.NewString), n, "exact", nil
		}
		if n > 1 {
			return "", 0, "", fmt.Errorf("oldString appears %d times; set replaceAll or add surrounding context", n)
		}
		return strings.Replace(text, in.OldString, in.NewString, 1), 1, "exact", nil
	}

	normText := strings.ReplaceAll(text, "\r\n", "\n")
	normOld := strings.ReplaceAll(in.OldString, "\r\n", "\n")
	if n := strings.Count(normText, normOld); n == 1 || (n > 1 && in.ReplaceAll) {
		if in.ReplaceAll {
			return strings.ReplaceAll(normText, normOld, in.NewString), n, "normalized", nil
		}
		return strings.Replace(normText, normOld, in.NewString, 1), 1, "normalized", nil
	}

	match, sim := closestBlock(text, in.OldString)
	if match != "" && sim >= minSimilarity {
		return strings.Replace(text, match, in.NewString, 1), 1, "fuzzy", nil
	}
	return "", 0, "", errors.New("oldString not found in file")
}

// closestBlock finds the run of lines in text most similar to target, with
// the same number of lines as target.
func closestBlock(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	width := len(strings.Split(target, "\n"))

	best, bestSim := "", 0.0
	for i := 0; i+width <= len(lines); i++ {
		block := strings.Join(lines[i:i+width], "\n")
		if s := similarity(block, target); s > bestSim {
			best, bestSim = block, s
		}
	}
	return best, bestSim
}

// similarity is 1 minus the Levenshtein distance normalized by the longer length.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if longest > 10000 {
		return float64(min(len(a), len(b))) / float64(longest)
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
