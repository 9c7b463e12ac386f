package provider

import (
	"context"
	"io"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// Provider streams model output for a conversation.
type Provider interface {
	// ID returns the provider identifier used in "provider/model" references.
	ID() string

	// Models returns the catalog of models served by this provider.
	Models() []types.Model

	// Stream starts a completion. Errors returned here happen before any
	// output is produced; later failures arrive as EventError.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Request is a single completion request.
type Request struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []*schema.Message  `json:"messages"`
	Tools       []*schema.ToolInfo `json:"tools,omitempty"`
	MaxTokens   int                `json:"maxTokens,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

// EventType discriminates stream events.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCall       EventType = "tool_call"
	EventUsage          EventType = "usage"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// ToolCall is a complete tool invocation requested by the model.
// Arguments is the raw JSON text the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Event is one item of a completion stream.
type Event struct {
	Type     EventType        `json:"type"`
	Text     string           `json:"text,omitempty"`
	ToolCall *ToolCall        `json:"toolCall,omitempty"`
	Usage    types.TokenUsage `json:"usage"`
	Finish   string           `json:"finish,omitempty"`
	Err      error            `json:"-"`
}

// Stream yields events until EventDone or EventError, after which Recv
// returns io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close()
}

// Finish reasons reported on EventDone.
const (
	FinishStop    = "stop"
	FinishToolUse = "tool_use"
	FinishLength  = "length"
)

// sliceStream replays a fixed list of events.
type sliceStream struct {
	events []Event
	pos    int
	closed bool
}

// NewSliceStream returns a Stream over events. A terminal EventDone is
// appended when the list does not already end in EventDone or EventError.
func NewSliceStream(events []Event) Stream {
	out := append([]Event(nil), events...)
	if n := len(out); n == 0 || (out[n-1].Type != EventDone && out[n-1].Type != EventError) {
		out = append(out, Event{Type: EventDone, Finish: finishFor(out)})
	}
	return &sliceStream{events: out}
}

func (s *sliceStream) Recv() (Event, error) {
	if s.closed || s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() { s.closed = true }

func finishFor(events []Event) string {
	for _, ev := range events {
		if ev.Type == EventToolCall {
			return FinishToolUse
		}
	}
	return FinishStop
}
