package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/opencode-ai/agentcore/internal/permission"
)

const (
	// MaxOutputLength is the most output kept for the model.
	MaxOutputLength = 30000
	// SigkillDelay is how long an aborted process group gets between
	// SIGTERM and SIGKILL.
	SigkillDelay = 200 * time.Millisecond
	pipeDrainDelay = 2 * time.Second
)

const bashDescription = `Executes a shell command in the working directory.

Usage:
- command is required
- Provide a short description of what the command does
- stdout and stderr are captured together and streamed as they arrive
- Output longer than 30000 characters is truncated
- The command runs in its own process group and is killed on abort`

// BashTool runs shell commands.
type BashTool struct {
	// Shell overrides shell detection.
	Shell string
}

type bashInput struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

func (t *BashTool) Definition() Definition {
	return Definition{
		Name:        "bash",
		Description: bashDescription,
		Parameters: []Parameter{
			{Name: "command", Type: TypeString, Required: true, Description: "The command to execute"},
			{Name: "description", Type: TypeString, Description: "Brief description of what this command does"},
		},
	}
}

// ResourceKeys are the files the command's file operations name. Commands
// that touch no known files run unconstrained.
func (t *BashTool) ResourceKeys(input json.RawMessage, workDir string) []string {
	var in bashInput
	if decode(input, &in) != nil {
		return nil
	}
	cmds, err := permission.ParseBashCommand(in.Command)
	if err != nil {
		return nil
	}
	var keys []string
	for _, c := range cmds {
		for _, p := range permission.ExtractPaths(c) {
			keys = append(keys, fileKey(p, workDir))
		}
	}
	return keys
}

func (t *BashTool) Action(input json.RawMessage, workDir string) permission.Action {
	var in bashInput
	_ = decode(input, &in)
	return permission.Action{Command: in.Command, WorkDir: workDir}
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in bashInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, errors.New("command is empty")
	}

	shell := t.Shell
	if shell == "" {
		shell = detectShell()
	}
	cmd := exec.CommandContext(ctx, shell, "-c", in.Command)
	cmd.Dir = tc.WorkDir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = pipeDrainDelay

	out := &streamBuffer{ctx: tc, limit: MaxOutputLength}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run command: %w", err)
	}

	output := out.String()
	if exitCode != 0 {
		output += fmt.Sprintf("\n\n(exit code %d)", exitCode)
	}

	title := in.Description
	if title == "" {
		title = in.Command
	}
	return &Result{
		Title:  title,
		Output: output,
		Metadata: map[string]any{
			"exit":        exitCode,
			"truncated":   out.truncated,
			"description": in.Description,
		},
	}, nil
}

// killGroup sends SIGTERM to the command's process group and SIGKILL after
// SigkillDelay if it is still around.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	go func() {
		time.Sleep(SigkillDelay)
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}()
	return nil
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" && !strings.HasSuffix(s, "/fish") && !strings.HasSuffix(s, "/nu") {
		return s
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

// streamBuffer collects combined output up to limit and forwards every
// chunk to the call's sink.
type streamBuffer struct {
	mu        sync.Mutex
	ctx       *Context
	buf       strings.Builder
	limit     int
	truncated bool
}

func (b *streamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ctx.Stream(string(p))
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *streamBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if b.truncated {
		s += "\n\n(Output truncated)"
	}
	return s
}
