package provider

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/opencode-ai/agentcore/internal/id"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// Turn is the scripted response to one Stream call. A non-nil Err fails the
// call before any event is produced.
type Turn struct {
	Events []Event
	Err    error
}

// Script chooses the turn for the n-th call, starting at 0.
type Script func(n int, req *Request) Turn

// ScriptedProvider is a deterministic Provider driven by a Script. It serves
// a single model and records every request it receives.
type ScriptedProvider struct {
	id     string
	model  types.Model
	script Script

	mu       sync.Mutex
	requests []*Request
}

// NewScriptedProvider creates a provider that answers with script.
func NewScriptedProvider(providerID, modelID string, script Script) *ScriptedProvider {
	return &ScriptedProvider{
		id: providerID,
		model: types.Model{
			ID:            modelID,
			Name:          modelID,
			ProviderID:    providerID,
			ContextLength: 128000,
			SupportsTools: true,
		},
		script: script,
	}
}

// Sequence plays turns in order and repeats the last one once exhausted.
func Sequence(turns ...Turn) Script {
	return func(n int, _ *Request) Turn {
		if len(turns) == 0 {
			return Turn{Events: []Event{{Type: EventDone, Finish: FinishStop}}}
		}
		if n >= len(turns) {
			n = len(turns) - 1
		}
		return turns[n]
	}
}

// WithPricing sets the per-million token prices of the served model.
func (p *ScriptedProvider) WithPricing(input, output float64) *ScriptedProvider {
	p.model.InputPrice = input
	p.model.OutputPrice = output
	return p
}

func (p *ScriptedProvider) ID() string { return p.id }

func (p *ScriptedProvider) Models() []types.Model { return []types.Model{p.model} }

func (p *ScriptedProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	turn := p.script(n, req)
	if turn.Err != nil {
		return nil, turn.Err
	}
	events := make([]Event, len(turn.Events))
	for i, ev := range turn.Events {
		if ev.ToolCall != nil && ev.ToolCall.ID == "" {
			call := *ev.ToolCall
			call.ID = id.New(id.Call)
			ev.ToolCall = &call
		}
		events[i] = ev
	}
	return NewSliceStream(events), nil
}

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Request(nil), p.requests...)
}

// Calls returns the number of Stream calls made.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Text builds a turn answering with text.
func Text(text string) Turn {
	return Turn{Events: []Event{
		{Type: EventTextDelta, Text: text},
		{Type: EventUsage, Usage: types.TokenUsage{Input: 10, Output: 5}},
	}}
}

// Call builds a tool call event. Calls without an id get a fresh one each
// time they are streamed.
func Call(tool string, input map[string]any) Event {
	args := []byte("{}")
	if input != nil {
		args, _ = json.Marshal(input)
	}
	return Event{Type: EventToolCall, ToolCall: &ToolCall{Name: tool, Arguments: string(args)}}
}

// ToolCalls builds a turn issuing the given tool calls.
func ToolCalls(calls ...Event) Turn {
	events := append([]Event(nil), calls...)
	events = append(events, Event{Type: EventUsage, Usage: types.TokenUsage{Input: 10, Output: 5}})
	return Turn{Events: events}
}
