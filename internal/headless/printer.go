package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// Printer renders a session's bus events in one of the output formats and
// collects the run summary.
type Printer struct {
	mu          sync.Mutex
	writer      io.Writer
	format      OutputFormat
	quiet       bool
	verbose     bool
	unsubscribe func()
	sessionID   string
	startTime   time.Time
	result      *Result
	toolCalls   []ToolCall
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		startTime: time.Now(),
		result: &Result{
			Status:   "running",
			ExitCode: ExitSuccess,
		},
		toolCalls: make([]ToolCall, 0),
	}
}

// Subscribe starts listening to events on bus.
func (p *Printer) Subscribe(bus *event.Bus) {
	p.unsubscribe = bus.SubscribeAll(p.handleEvent)
}

// Unsubscribe stops listening to events.
func (p *Printer) Unsubscribe() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// SetSessionID restricts the printer to one session's events.
func (p *Printer) SetSessionID(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	p.result.SessionID = sessionID
}

// GetResult returns the current result.
func (p *Printer) GetResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
	p.result.ToolCalls = p.toolCalls

	return p.result
}

// SetResult updates the result with final values.
func (p *Printer) SetResult(status string, exitCode ExitCode, finalMessage string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Status = status
	p.result.ExitCode = exitCode
	if finalMessage != "" {
		p.result.FinalMessage = finalMessage
	}
	if err != nil {
		p.result.Error = err.Error()
	}
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
}

// SetModel updates the model in the result.
func (p *Printer) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Model = model
}

// PrintFinalResult prints the final JSON result (json format) or the closing
// summary line (text format).
func (p *Printer) PrintFinalResult() {
	result := p.GetResult()

	switch p.format {
	case OutputJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return
		}
		fmt.Fprintln(p.writer, string(data))
	case OutputJSONL:
		data, err := json.Marshal(NewEvent("result", result))
		if err != nil {
			return
		}
		fmt.Fprintln(p.writer, string(data))
	case OutputText:
		if p.quiet {
			fmt.Fprintln(p.writer)
			return
		}
		if result.Error != "" {
			fmt.Fprintf(p.writer, "\n[%s] %s\n", result.Status, result.Error)
			return
		}
		fmt.Fprintf(p.writer, "\n[done] Session completed in %s", formatDuration(time.Duration(result.DurationMS)*time.Millisecond))
		if result.Tokens != nil {
			fmt.Fprintf(p.writer, " (input: %d tokens, output: %d tokens)", result.Tokens.Input, result.Tokens.Output)
		}
		fmt.Fprintln(p.writer)
	}
}

// handleEvent processes incoming events and outputs them according to format.
func (p *Printer) handleEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessionID == "" || event.SessionOf(e) != p.sessionID {
		return
	}

	p.trackEvent(e)
	switch p.format {
	case OutputText:
		p.handleTextEvent(e)
	case OutputJSONL:
		p.handleJSONLEvent(e)
	}
}

// handleTextEvent outputs events in human-readable text format.
func (p *Printer) handleTextEvent(e event.Event) {
	data, ok := e.Data.(event.PartData)
	if p.quiet {
		// In quiet mode, only output model text
		if ok {
			if text, isText := data.Part.(*types.TextPart); isText {
				p.printText(e.Type, text, data.Delta)
			}
		}
		return
	}

	switch e.Type {
	case event.PartCreated, event.PartUpdated:
		if !ok {
			return
		}
		switch part := data.Part.(type) {
		case *types.TextPart:
			p.printText(e.Type, part, data.Delta)
		case *types.ToolCallPart:
			if e.Type == event.PartUpdated && part.State.Status == types.ToolRunning {
				if info := formatToolInfo(part); info != "" {
					fmt.Fprintf(p.writer, "\n[tool:%s] %s\n", part.Tool, info)
				} else if p.verbose {
					fmt.Fprintf(p.writer, "\n[tool:%s] Running...\n", part.Tool)
				}
			}
		case *types.ToolResultPart:
			switch part.Status {
			case types.ToolError, types.ToolDenied, types.ToolAborted:
				fmt.Fprintf(p.writer, "[tool:%s] %s: %s\n", part.Tool, part.Status, part.Error)
			case types.ToolCompleted:
				if p.verbose {
					fmt.Fprintf(p.writer, "[tool:%s] Done\n", part.Tool)
				}
			}
		}

	case event.MessageCreated:
		if data, ok := e.Data.(event.MessageData); ok && data.Info != nil && p.verbose {
			if data.Info.Role == types.RoleAssistant {
				fmt.Fprintf(p.writer, "[assistant] Thinking...\n")
			}
		}

	case event.PermissionAsked:
		if data, ok := e.Data.(event.PermissionAskedData); ok && p.verbose {
			fmt.Fprintf(p.writer, "[permission] %s: %s\n", data.Tool, data.Title)
		}

	case event.PermissionResolved:
		if data, ok := e.Data.(event.PermissionResolvedData); ok && p.verbose {
			fmt.Fprintf(p.writer, "[permission] %s\n", data.Response)
		}
	}
}

func (p *Printer) printText(t event.EventType, part *types.TextPart, delta string) {
	switch {
	case delta != "":
		fmt.Fprint(p.writer, delta)
	case t == event.PartCreated:
		fmt.Fprint(p.writer, part.Text)
	}
}

// handleJSONLEvent outputs events in JSONL format.
func (p *Printer) handleJSONLEvent(e event.Event) {
	if !p.verbose && !isImportantEvent(e) {
		return
	}

	data, err := json.Marshal(NewEvent(string(e.Type), e.Data))
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// trackEvent tracks events for the final result.
func (p *Printer) trackEvent(e event.Event) {
	switch data := e.Data.(type) {
	case event.MessageData:
		if data.Info != nil && data.Info.Role == types.RoleAssistant {
			tokens := data.Info.Usage.Tokens
			p.result.Tokens = &tokens
			p.result.Cost = data.Info.Usage.Cost
			p.result.Steps = data.Info.Steps
			if data.Info.ProviderID != "" {
				p.result.Model = data.Info.ProviderID + "/" + data.Info.ModelID
			}
		}

	case event.PartData:
		switch part := data.Part.(type) {
		case *types.TextPart:
			if e.Type == event.PartUpdated && data.Delta == "" && part.Text != "" {
				p.result.FinalMessage = part.Text
			}
		case *types.ToolResultPart:
			if e.Type == event.PartCreated {
				p.toolCalls = append(p.toolCalls, ToolCall{
					Tool:   part.Tool,
					Status: string(part.Status),
					Title:  part.Title,
					Output: truncateOutput(part.Output, 500),
					Error:  part.Error,
				})
			}
		}
	}
}

// Helper functions

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatToolInfo(part *types.ToolCallPart) string {
	input := part.Input
	if input == nil {
		return ""
	}

	switch part.Tool {
	case "read":
		if path, ok := input["path"].(string); ok {
			return fmt.Sprintf("Reading %s", path)
		}
	case "write":
		if path, ok := input["path"].(string); ok {
			return fmt.Sprintf("Writing %s", path)
		}
	case "edit":
		if path, ok := input["path"].(string); ok {
			return fmt.Sprintf("Editing %s", path)
		}
	case "bash":
		if cmd, ok := input["command"].(string); ok {
			cmd = strings.Split(cmd, "\n")[0]
			if len(cmd) > 60 {
				cmd = cmd[:60] + "..."
			}
			return fmt.Sprintf("$ %s", cmd)
		}
	case "search":
		if pattern, ok := input["pattern"].(string); ok {
			return fmt.Sprintf("Searching: %s", pattern)
		}
		if glob, ok := input["glob"].(string); ok {
			return fmt.Sprintf("Finding: %s", glob)
		}
	case "list":
		if path, ok := input["path"].(string); ok {
			return fmt.Sprintf("Listing %s", path)
		}
	case "webfetch":
		if url, ok := input["url"].(string); ok {
			return fmt.Sprintf("Fetching: %s", url)
		}
	}

	return ""
}

func isImportantEvent(e event.Event) bool {
	switch e.Type {
	case event.SessionCreated,
		event.MessageCreated,
		event.PermissionAsked,
		event.PermissionResolved,
		event.LoopState:
		return true
	case event.PartCreated, event.PartUpdated:
		// Skip streaming deltas unless verbose
		data, ok := e.Data.(event.PartData)
		return ok && data.Delta == ""
	default:
		return false
	}
}
