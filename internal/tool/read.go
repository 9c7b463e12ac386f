package tool

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencode-ai/agentcore/internal/permission"
)

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- path may be absolute or relative to the working directory
- By default, reads up to 2000 lines from the beginning
- offset (1-based line) and limit page through long files
- Returns file contents with line numbers
- Image files are returned as attachments`

// ReadTool reads text files with line numbers.
type ReadTool struct{}

type readInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *ReadTool) Definition() Definition {
	return Definition{
		Name:        "read",
		Description: readDescription,
		ReadOnly:    true,
		Parameters: []Parameter{
			{Name: "path", Type: TypeString, Required: true, Description: "The path of the file to read"},
			{Name: "offset", Type: TypeInteger, Description: "Line number to start reading from"},
			{Name: "limit", Type: TypeInteger, Description: "Number of lines to read (default: 2000)"},
		},
	}
}

func (t *ReadTool) Action(input json.RawMessage, workDir string) permission.Action {
	var in readInput
	_ = decode(input, &in)
	return pathAction(in.Path, workDir, true)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in readInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if in.Limit <= 0 {
		in.Limit = defaultReadLimit
	}
	path := resolve(in.Path, tc.WorkDir)

	if blockedEnvFile(path) {
		return nil, fmt.Errorf("reading %s is not allowed", in.Path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", in.Path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", in.Path)
	}
	if isImageFile(path) {
		return readImage(path)
	}
	if isBinaryFile(path) {
		return nil, fmt.Errorf("file appears to be binary: %s", in.Path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		if lineNum%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lineNum++
		if lineNum < in.Offset {
			continue
		}
		if len(lines) >= in.Limit {
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))

	first := in.Offset
	if first < 1 {
		first = 1
	}
	last := first + len(lines) - 1
	if lineNum > last {
		fmt.Fprintf(&sb, "\n\n(File has more lines. Use 'offset' to read beyond line %d)", last)
	} else {
		fmt.Fprintf(&sb, "\n\n(End of file - total %d lines)", lineNum)
	}
	sb.WriteString("\n</file>")

	return &Result{
		Title:  filepath.Base(path),
		Output: sb.String(),
		Metadata: map[string]any{
			"path":       path,
			"lines":      len(lines),
			"totalLines": lineNum,
		},
	}, nil
}

func readImage(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mediaType := imageMediaType(path)
	return &Result{
		Title:  filepath.Base(path),
		Output: "(Image file)",
		Attachments: []Attachment{{
			Filename:  filepath.Base(path),
			MediaType: mediaType,
			URL:       fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data)),
		}},
	}, nil
}

func isImageFile(path string) bool {
	return imageMediaType(path) != ""
}

func imageMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	}
	return ""
}

func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 8000)
	n, _ := f.Read(buf)
	if n == 0 {
		return false
	}
	control := 0
	for _, b := range buf[:n] {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			control++
		}
	}
	return float64(control)/float64(n) > 0.3
}

// blockedEnvFile reports whether path is a dotenv file with likely secrets.
// Sample and example files are allowed.
func blockedEnvFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, ".sample") || strings.HasSuffix(base, ".example") {
		return false
	}
	return base == ".env" || strings.HasPrefix(base, ".env.")
}
