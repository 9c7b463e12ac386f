package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/pkg/types"
)

func TestParseModel(t *testing.T) {
	tests := []struct {
		in      string
		want    types.ModelRef
		wantErr bool
	}{
		{"anthropic/claude-sonnet-4-20250514", types.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-20250514"}, false},
		{"openrouter/meta/llama-3", types.ModelRef{ProviderID: "openrouter", ModelID: "meta/llama-3"}, false},
		{"gpt-4o", types.ModelRef{}, true},
		{"/gpt-4o", types.ModelRef{}, true},
		{"openai/", types.ModelRef{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseModel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry(&types.Config{Model: "test/small"})
	reg.Register(NewScriptedProvider("test", "small", Sequence()))
	reg.Register(NewScriptedProvider("other", "claude-sonnet-4-20250514", Sequence()))

	p, m, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "test", p.ID())
	assert.Equal(t, "small", m.ID)

	p, m, err = reg.Resolve("other/claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "other", p.ID())
	assert.Equal(t, "other", m.ProviderID)

	_, _, err = reg.Resolve("missing/x")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	_, _, err = reg.Resolve("test/large")
	assert.ErrorIs(t, err, ErrModelNotFound)

	ids := []string{}
	for _, p := range reg.List() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"other", "test"}, ids)
}

func TestRegistry_DefaultModelByPriority(t *testing.T) {
	reg := NewRegistry(&types.Config{})
	_, err := reg.DefaultModel()
	assert.ErrorIs(t, err, ErrModelNotFound)

	reg.Register(NewScriptedProvider("a", "local-model", Sequence()))
	reg.Register(NewScriptedProvider("b", "gpt-4o", Sequence()))
	m, err := reg.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.ID)
}

func TestInitializeProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ARK_API_KEY", "")

	reg, err := InitializeProviders(context.Background(), &types.Config{
		Provider: map[string]types.ProviderConfig{
			"openai":    {APIKey: "sk-test", Model: "gpt-4o-mini"},
			"anthropic": {APIKey: "sk-ant-test", Disable: true},
			"local":     {Options: &types.ProviderOptions{APIKey: "x", BaseURL: "http://localhost:11434/v1"}, Model: "qwen3"},
			"broken":    {APIKey: "x"},
		},
	})
	require.NoError(t, err)

	var ids []string
	for _, p := range reg.List() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"local", "openai"}, ids)

	local, err := reg.Get("local")
	require.NoError(t, err)
	require.Len(t, local.Models(), 1)
	assert.Equal(t, "qwen3", local.Models()[0].ID)

	_, err = reg.GetModel("openai", "gpt-4o-mini")
	assert.NoError(t, err)
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"rate limit", errors.New("error, status code: 429, status: 429 Too Many Requests, message: slow down"), 429, true},
		{"overloaded", errors.New(`POST "https://api.anthropic.com/v1/messages": 529 Overloaded`), 529, true},
		{"bad request", errors.New("error, status code: 400, message: invalid"), 400, false},
		{"forbidden", errors.New("status 403 forbidden"), 403, false},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), 0, true},
		{"timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, 0, true},
		{"plain", errors.New("unexpected response"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Wrap("p", tt.err)
			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Nil(t, Wrap("p", nil))
	assert.Equal(t, context.Canceled, Wrap("p", context.Canceled))

	me := types.NewMessageError(Wrap("anthropic", errors.New("status code: 503")))
	assert.Equal(t, types.ErrNameProvider, me.Name)
	assert.Equal(t, "anthropic", me.Data.ProviderID)
	assert.Equal(t, 503, me.Data.StatusCode)
	assert.True(t, me.Data.Retryable)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCost(t *testing.T) {
	m := &types.Model{InputPrice: 3, OutputPrice: 15, CacheReadPrice: 0.3, CacheWritePrice: 3.75}
	usage := types.TokenUsage{
		Input:     1_000_000,
		Output:    100_000,
		Reasoning: 100_000,
		Cache:     types.CacheUsage{Read: 1_000_000, Write: 0},
	}
	assert.InDelta(t, 3+3+0.3, Cost(m, usage), 1e-9)
	assert.Zero(t, Cost(nil, usage))
}

func TestScriptedProvider(t *testing.T) {
	p := NewScriptedProvider("test", "m", Sequence(
		Turn{Err: errors.New("first fails")},
		ToolCalls(Call("read", map[string]any{"path": "a"})),
	)).WithPricing(1, 2)

	_, err := p.Stream(context.Background(), &Request{})
	assert.EqualError(t, err, "first fails")

	var ids []string
	for i := 0; i < 2; i++ {
		s, err := p.Stream(context.Background(), &Request{Model: "m"})
		require.NoError(t, err)
		events := drain(t, s)
		require.Len(t, events, 3)
		assert.Equal(t, "read", events[0].ToolCall.Name)
		assert.JSONEq(t, `{"path":"a"}`, events[0].ToolCall.Arguments)
		ids = append(ids, events[0].ToolCall.ID)
		assert.Equal(t, FinishToolUse, events[2].Finish)
	}
	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, 3, p.Calls())
	assert.Len(t, p.Requests(), 3)
	assert.Equal(t, 2.0, p.Models()[0].OutputPrice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Stream(ctx, &Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
