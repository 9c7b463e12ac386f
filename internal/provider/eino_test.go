package provider

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// fakeChatModel streams canned chunks and records what it was called with.
type fakeChatModel struct {
	chunks    []*schema.Message
	failAfter error
	startErr  error

	tools    []*schema.ToolInfo
	messages []*schema.Message
	options  []model.Option
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.messages = input
	f.options = opts
	if f.startErr != nil {
		return nil, f.startErr
	}
	sr, sw := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range f.chunks {
			sw.Send(c, nil)
		}
		if f.failAfter != nil {
			sw.Send(nil, f.failAfter)
		}
	}()
	return sr, nil
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

func drain(t *testing.T, s Stream) []Event {
	t.Helper()
	defer s.Close()
	var events []Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func intPtr(i int) *int { return &i }

func TestEinoProvider_TextAndUsage(t *testing.T) {
	fake := &fakeChatModel{chunks: []*schema.Message{
		{Role: schema.Assistant, ReasoningContent: "thinking"},
		{Role: schema.Assistant, Content: "Hello"},
		{Role: schema.Assistant, Content: " world"},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 3},
		}},
	}}
	p := NewEinoProvider("fake", fake, nil)

	temp := 0.2
	stream, err := p.Stream(context.Background(), &Request{
		Model:       "m",
		System:      "be brief",
		Messages:    []*schema.Message{schema.UserMessage("hi")},
		MaxTokens:   100,
		Temperature: &temp,
	})
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 5)
	assert.Equal(t, Event{Type: EventReasoningDelta, Text: "thinking"}, events[0])
	assert.Equal(t, "Hello", events[1].Text)
	assert.Equal(t, " world", events[2].Text)
	assert.Equal(t, EventUsage, events[3].Type)
	assert.Equal(t, types.TokenUsage{Input: 12, Output: 3}, events[3].Usage)
	assert.Equal(t, Event{Type: EventDone, Finish: FinishStop}, events[4])

	require.Len(t, fake.messages, 2)
	assert.Equal(t, schema.System, fake.messages[0].Role)
	assert.Equal(t, "be brief", fake.messages[0].Content)
	assert.Len(t, fake.options, 3)
	assert.Nil(t, fake.tools)
}

func TestEinoProvider_AccumulatesToolCalls(t *testing.T) {
	fake := &fakeChatModel{chunks: []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Index: intPtr(0), ID: "call_a", Function: schema.FunctionCall{Name: "read", Arguments: `{"pa`}},
		}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Index: intPtr(1), ID: "call_b", Function: schema.FunctionCall{Name: "list"}},
			{Index: intPtr(0), Function: schema.FunctionCall{Arguments: `th":"a.go"}`}},
		}},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "tool_calls"}},
	}}
	p := NewEinoProvider("fake", fake, nil)

	tools := []*schema.ToolInfo{{Name: "read"}, {Name: "list"}}
	stream, err := p.Stream(context.Background(), &Request{Tools: tools})
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 3)
	assert.Equal(t, &ToolCall{ID: "call_a", Name: "read", Arguments: `{"path":"a.go"}`}, events[0].ToolCall)
	assert.Equal(t, &ToolCall{ID: "call_b", Name: "list", Arguments: "{}"}, events[1].ToolCall)
	assert.Equal(t, Event{Type: EventDone, Finish: FinishToolUse}, events[2])
	assert.Equal(t, tools, fake.tools)
}

func TestEinoProvider_ToolCallsWithoutIndex(t *testing.T) {
	fake := &fakeChatModel{chunks: []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{ID: "c1", Function: schema.FunctionCall{Name: "bash", Arguments: `{"command":`}},
		}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Function: schema.FunctionCall{Arguments: `"ls"}`}},
		}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Function: schema.FunctionCall{Name: "list", Arguments: `{}`}, ID: "c2"},
		}},
	}}
	stream, err := NewEinoProvider("fake", fake, nil).Stream(context.Background(), &Request{})
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 3)
	assert.Equal(t, `{"command":"ls"}`, events[0].ToolCall.Arguments)
	assert.Equal(t, "c2", events[1].ToolCall.ID)
	assert.Equal(t, FinishToolUse, events[2].Finish)
}

func TestEinoProvider_StartError(t *testing.T) {
	fake := &fakeChatModel{startErr: errors.New("error, status code: 429, status: 429 Too Many Requests")}
	_, err := NewEinoProvider("fake", fake, nil).Stream(context.Background(), &Request{})

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.StatusCode)
	assert.True(t, pe.Retryable)
	assert.Equal(t, "fake", pe.ProviderID)
}

func TestEinoProvider_MidStreamError(t *testing.T) {
	fake := &fakeChatModel{
		chunks:    []*schema.Message{{Role: schema.Assistant, Content: "partial"}},
		failAfter: errors.New(`POST "https://api.example.com/v1/messages": 401 Unauthorized`),
	}
	stream, err := NewEinoProvider("fake", fake, nil).Stream(context.Background(), &Request{})
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 2)
	assert.Equal(t, "partial", events[0].Text)
	assert.Equal(t, EventError, events[1].Type)
	assert.False(t, IsRetryable(events[1].Err))
	assert.Equal(t, types.ErrNameProviderAuth, types.NewMessageError(events[1].Err).Name)
}

func TestSliceStream_AppendsDone(t *testing.T) {
	events := drain(t, NewSliceStream([]Event{Call("read", nil)}))
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventDone, Finish: FinishToolUse}, events[1])

	events = drain(t, NewSliceStream(nil))
	assert.Equal(t, []Event{{Type: EventDone, Finish: FinishStop}}, events)

	errEvent := Event{Type: EventError, Err: errors.New("boom")}
	events = drain(t, NewSliceStream([]Event{errEvent}))
	assert.Equal(t, []Event{errEvent}, events)
}
