package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBashTool_Execute(t *testing.T) {
	dir := t.TempDir()
	result, err := run(t, &BashTool{}, dir, map[string]any{"command": "echo 'Hello from Bash' && pwd", "description": "Print hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Output, "Hello from Bash") {
		t.Errorf("output = %q", result.Output)
	}
	real, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(result.Output, real) && !strings.Contains(result.Output, dir) {
		t.Errorf("command did not run in work dir: %q", result.Output)
	}
	if result.Title != "Print hello" {
		t.Errorf("title = %q", result.Title)
	}
}

func TestBashTool_ExitCode(t *testing.T) {
	result, err := run(t, &BashTool{}, t.TempDir(), map[string]any{"command": "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if result.Metadata["exit"] != 3 {
		t.Errorf("exit = %v", result.Metadata["exit"])
	}
	if !strings.Contains(result.Output, "oops") || !strings.Contains(result.Output, "(exit code 3)") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestBashTool_Truncation(t *testing.T) {
	result, err := run(t, &BashTool{}, t.TempDir(), map[string]any{"command": "head -c 40000 /dev/zero | tr '\\0' 'a'"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Metadata["truncated"] != true {
		t.Errorf("truncated = %v", result.Metadata["truncated"])
	}
	if !strings.HasSuffix(result.Output, "(Output truncated)") {
		t.Errorf("missing truncation marker")
	}
}

func TestBashTool_Streams(t *testing.T) {
	sink := &chunks{}
	tc := testContext(t.TempDir())
	tc.Sink = sink

	_, err := (&BashTool{}).Execute(context.Background(), mustJSON(t, map[string]any{"command": "echo one; echo two"}), tc)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	joined := strings.Join(sink.all(), "")
	if joined != "one\ntwo\n" {
		t.Errorf("streamed %q", joined)
	}
}

func TestBashTool_AbortKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := (&BashTool{}).Execute(ctx, mustJSON(t, map[string]any{
			"command": "(sleep 2; touch " + marker + ") & sleep 30",
		}), testContext(dir))
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bash did not return after cancel")
	}

	time.Sleep(2500 * time.Millisecond)
	if _, err := os.Stat(marker); err == nil {
		t.Error("background child survived the abort")
	}
}
