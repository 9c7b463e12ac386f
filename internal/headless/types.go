package headless

import (
	"io"
	"time"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// Valid reports whether f is a known format.
func (f OutputFormat) Valid() bool {
	switch f {
	case OutputText, OutputJSON, OutputJSONL:
		return true
	}
	return false
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	// ExitSuccess indicates successful completion.
	ExitSuccess ExitCode = 0
	// ExitError indicates a general/unknown error.
	ExitError ExitCode = 1
	// ExitTimeout indicates timeout exceeded.
	ExitTimeout ExitCode = 2
	// ExitStepLimit indicates the run used up its steps or its output was
	// truncated at the model output limit.
	ExitStepLimit ExitCode = 3
	// ExitProviderError indicates model/provider error (auth, rate limit).
	ExitProviderError ExitCode = 4
	// ExitInvalidInput indicates bad prompt or missing required flags.
	ExitInvalidInput ExitCode = 5
	// ExitSessionNotFound indicates session not found when continuing.
	ExitSessionNotFound ExitCode = 6
	// ExitAborted indicates the run was interrupted.
	ExitAborted ExitCode = 130
)

// Config holds configuration for headless mode execution.
type Config struct {
	// Prompt is the instruction to execute.
	Prompt string
	// WorkDir is the working directory.
	WorkDir string
	// OutputFormat specifies the output format (text, json, jsonl).
	OutputFormat OutputFormat
	// Timeout is the maximum execution time; zero means none.
	Timeout time.Duration
	// Stdin, when set, is read to the end and appended to Prompt.
	Stdin io.Reader
	// SessionID is an existing session ID to continue.
	SessionID string
	// ContinueLast continues the most recently updated session of WorkDir.
	ContinueLast bool
	// Files are attached to the user message.
	Files []string
	// Quiet suppresses progress output, only shows result.
	Quiet bool
	// Verbose shows all events (with jsonl format).
	Verbose bool
	// Model overrides the default model (format: provider/model).
	Model string
	// Agent specifies which agent to use.
	Agent string
	// Title is an optional session title.
	Title string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
	}
}

// ToolCall represents a tool call in the result.
type ToolCall struct {
	Tool   string `json:"tool"`
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result holds the final result of a headless execution.
type Result struct {
	SessionID    string            `json:"session_id"`
	Status       string            `json:"status"` // "success", "error", "timeout", "aborted", "step_limit"
	Model        string            `json:"model,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
	Tokens       *types.TokenUsage `json:"tokens,omitempty"`
	Cost         float64           `json:"cost,omitempty"`
	Steps        int               `json:"steps"`
	ToolCalls    []ToolCall        `json:"tool_calls,omitempty"`
	FinalMessage string            `json:"final_message,omitempty"`
	Error        string            `json:"error,omitempty"`
	ExitCode     ExitCode          `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
