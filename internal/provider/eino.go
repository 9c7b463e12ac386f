package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentcore/internal/id"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// EinoProvider adapts an eino tool-calling chat model to Provider.
type EinoProvider struct {
	id        string
	chatModel model.ToolCallingChatModel
	models    []types.Model
	options   []model.Option

	// maxTokens builds the per-call token limit option.
	maxTokens func(int) model.Option
}

// NewEinoProvider wraps chatModel. Extra options are passed on every call.
func NewEinoProvider(providerID string, chatModel model.ToolCallingChatModel, models []types.Model, opts ...model.Option) *EinoProvider {
	return &EinoProvider{
		id:        providerID,
		chatModel: chatModel,
		models:    models,
		options:   opts,
		maxTokens: model.WithMaxTokens,
	}
}

// ID returns the provider identifier.
func (p *EinoProvider) ID() string { return p.id }

// Models returns the list of available models.
func (p *EinoProvider) Models() []types.Model { return p.models }

// ChatModel returns the underlying eino model.
func (p *EinoProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

// Stream binds the request tools and starts a streaming completion.
func (p *EinoProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	chatModel := p.chatModel
	if len(req.Tools) > 0 {
		var err error
		chatModel, err = chatModel.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	messages := req.Messages
	if req.System != "" {
		messages = append([]*schema.Message{schema.SystemMessage(req.System)}, messages...)
	}

	opts := append([]model.Option(nil), p.options...)
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, p.maxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}

	logging.Debug().
		Str("provider", p.id).
		Str("model", req.Model).
		Int("messages", len(messages)).
		Int("tools", len(req.Tools)).
		Msg("starting completion")

	reader, err := chatModel.Stream(ctx, messages, opts...)
	if err != nil {
		return nil, Wrap(p.id, err)
	}
	return newEinoStream(p.id, reader), nil
}

// einoStream converts message chunks into events. Tool-call fragments are
// accumulated and emitted whole once the upstream stream ends, followed by
// a usage event and the done event.
type einoStream struct {
	providerID string
	reader     *schema.StreamReader[*schema.Message]

	queue   []Event
	calls   map[int]*ToolCall
	order   []int
	lastKey int
	usage   types.TokenUsage
	finish  string
	ended   bool
}

func newEinoStream(providerID string, reader *schema.StreamReader[*schema.Message]) *einoStream {
	return &einoStream{
		providerID: providerID,
		reader:     reader,
		calls:      make(map[int]*ToolCall),
		lastKey:    -1,
	}
}

func (s *einoStream) Recv() (Event, error) {
	for len(s.queue) == 0 {
		if s.ended {
			return Event{}, io.EOF
		}
		msg, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			s.flush()
			continue
		}
		if err != nil {
			s.ended = true
			s.queue = append(s.queue, Event{Type: EventError, Err: Wrap(s.providerID, err)})
			continue
		}
		s.chunk(msg)
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *einoStream) Close() {
	s.reader.Close()
}

func (s *einoStream) chunk(msg *schema.Message) {
	if msg == nil {
		return
	}
	if msg.ReasoningContent != "" {
		s.queue = append(s.queue, Event{Type: EventReasoningDelta, Text: msg.ReasoningContent})
	}
	if msg.Content != "" {
		s.queue = append(s.queue, Event{Type: EventTextDelta, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		s.accumulate(tc)
	}
	if meta := msg.ResponseMeta; meta != nil {
		if meta.Usage != nil {
			// Usage may repeat as running totals; keep the largest.
			s.usage.Input = max(s.usage.Input, meta.Usage.PromptTokens)
			s.usage.Output = max(s.usage.Output, meta.Usage.CompletionTokens)
		}
		if meta.FinishReason != "" {
			s.finish = meta.FinishReason
		}
	}
}

// accumulate merges a tool-call fragment. Fragments are keyed by their stream
// index; without one a new id opens a new call and an empty id continues the
// previous call.
func (s *einoStream) accumulate(tc schema.ToolCall) {
	key := -1
	switch {
	case tc.Index != nil:
		key = *tc.Index
	case tc.ID != "":
		for k, c := range s.calls {
			if c.ID == tc.ID {
				key = k
				break
			}
		}
		if key < 0 {
			key = s.nextKey()
		}
	case s.lastKey >= 0:
		key = s.lastKey
	default:
		key = s.nextKey()
	}

	call, ok := s.calls[key]
	if !ok {
		call = &ToolCall{}
		s.calls[key] = call
		s.order = append(s.order, key)
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	call.Arguments += tc.Function.Arguments
	s.lastKey = key
}

func (s *einoStream) nextKey() int {
	key := 1 << 20
	for k := range s.calls {
		if k >= key {
			key = k + 1
		}
	}
	return key
}

func (s *einoStream) flush() {
	s.ended = true

	keys := append([]int(nil), s.order...)
	sort.Ints(keys)
	for _, k := range keys {
		call := s.calls[k]
		if call.Name == "" {
			logging.Warn().Str("provider", s.providerID).Int("index", k).Msg("dropping tool call without a name")
			continue
		}
		if call.ID == "" {
			call.ID = id.New(id.Call)
		}
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		c := *call
		s.queue = append(s.queue, Event{Type: EventToolCall, ToolCall: &c})
	}

	if s.usage != (types.TokenUsage{}) {
		s.queue = append(s.queue, Event{Type: EventUsage, Usage: s.usage})
	}
	s.queue = append(s.queue, Event{Type: EventDone, Finish: s.finishReason(len(keys) > 0)})
}

func (s *einoStream) finishReason(hasCalls bool) string {
	switch s.finish {
	case "tool_calls", "tool_use", "function_call":
		return FinishToolUse
	case "length", "max_tokens":
		return FinishLength
	case "", "stop", "end_turn", "stop_sequence":
		if hasCalls {
			return FinishToolUse
		}
		return FinishStop
	default:
		return s.finish
	}
}
