package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testContext(workDir string) *Context {
	return &Context{
		SessionID: "ses_test",
		MessageID: "msg_test",
		CallID:    "call_test",
		WorkDir:   workDir,
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func run(t *testing.T, tl Tool, workDir string, input any) (*Result, error) {
	t.Helper()
	return tl.Execute(context.Background(), mustJSON(t, input), testContext(workDir))
}

// chunks records sink output.
type chunks struct {
	mu  sync.Mutex
	out []string
}

func (c *chunks) Write(chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, chunk)
}

func (c *chunks) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.out...)
}
