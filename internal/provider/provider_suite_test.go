package provider_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentcore/internal/provider"
)

func TestProviderSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Provider Suite")
}

var _ = BeforeSuite(func() {
	_ = godotenv.Load("../../.env")
})

// collect drains a stream, returning its events and the first error event.
func collect(s provider.Stream) ([]provider.Event, error) {
	defer s.Close()
	var events []provider.Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		if ev.Type == provider.EventError {
			return events, ev.Err
		}
		events = append(events, ev)
	}
}

func textOf(events []provider.Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == provider.EventTextDelta {
			sb.WriteString(ev.Text)
		}
	}
	return sb.String()
}

var _ = Describe("OpenAI-compatible provider", func() {
	var (
		ctx  context.Context
		mock *mockLLM
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if mock != nil {
			mock.Close()
			mock = nil
		}
	})

	newProvider := func() *provider.EinoProvider {
		p, err := provider.NewOpenAI(ctx, &provider.OpenAIConfig{
			ID:      "mock",
			APIKey:  "test-key",
			BaseURL: mock.URL(),
			Model:   "mock-gpt",
		})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	It("streams text deltas and finishes with stop", func() {
		mock = newMockLLM(mockReply{Content: "Hello from the mock server"})
		stream, err := newProvider().Stream(ctx, &provider.Request{
			Model:    "mock-gpt",
			System:   "You are terse.",
			Messages: []*schema.Message{schema.UserMessage("hi")},
		})
		Expect(err).NotTo(HaveOccurred())

		events, err := collect(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(textOf(events)).To(Equal("Hello from the mock server"))
		Expect(events[len(events)-1].Type).To(Equal(provider.EventDone))
		Expect(events[len(events)-1].Finish).To(Equal(provider.FinishStop))

		reqs := mock.Requests()
		Expect(reqs).To(HaveLen(1))
		msgs := reqs[0]["messages"].([]any)
		Expect(msgs[0].(map[string]any)["role"]).To(Equal("system"))
	})

	It("reassembles fragmented tool calls", func() {
		mock = newMockLLM(mockReply{ToolCalls: []mockToolCall{
			{ID: "call_1", Name: "search", Arguments: `{"glob":"**/*.go"}`},
			{ID: "call_2", Name: "read", Arguments: `{"path":"main.go"}`},
		}})
		stream, err := newProvider().Stream(ctx, &provider.Request{
			Messages: []*schema.Message{schema.UserMessage("find go files")},
			Tools: []*schema.ToolInfo{
				{Name: "search", Desc: "search files", ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"glob": {Type: schema.String},
				})},
				{Name: "read", Desc: "read a file", ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"path": {Type: schema.String, Required: true},
				})},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		events, err := collect(stream)
		Expect(err).NotTo(HaveOccurred())

		var calls []*provider.ToolCall
		for _, ev := range events {
			if ev.Type == provider.EventToolCall {
				calls = append(calls, ev.ToolCall)
			}
		}
		Expect(calls).To(HaveLen(2))
		Expect(calls[0].ID).To(Equal("call_1"))
		Expect(calls[0].Name).To(Equal("search"))
		Expect(calls[0].Arguments).To(MatchJSON(`{"glob":"**/*.go"}`))
		Expect(calls[1].Arguments).To(MatchJSON(`{"path":"main.go"}`))
		Expect(events[len(events)-1].Finish).To(Equal(provider.FinishToolUse))

		Expect(mock.Requests()[0]).To(HaveKey("tools"))
	})

	It("classifies server errors as retryable", func() {
		mock = newMockLLM(mockReply{Status: 503})
		stream, err := newProvider().Stream(ctx, &provider.Request{
			Messages: []*schema.Message{schema.UserMessage("hi")},
		})
		if err == nil {
			_, err = collect(stream)
		}
		Expect(err).To(HaveOccurred())
		Expect(provider.IsRetryable(err)).To(BeTrue())

		var pe *provider.Error
		Expect(errors.As(err, &pe)).To(BeTrue())
		Expect(pe.StatusCode).To(Equal(503))
		Expect(pe.ProviderID).To(Equal("mock"))
	})

	It("rejects credentials errors without retry", func() {
		mock = newMockLLM(mockReply{Status: 401})
		stream, err := newProvider().Stream(ctx, &provider.Request{
			Messages: []*schema.Message{schema.UserMessage("hi")},
		})
		if err == nil {
			_, err = collect(stream)
		}
		Expect(err).To(HaveOccurred())
		Expect(provider.IsRetryable(err)).To(BeFalse())
	})
})

var _ = Describe("Anthropic provider", func() {
	It("answers a simple prompt", func() {
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			Skip("ANTHROPIC_API_KEY not set")
		}
		ctx := context.Background()
		modelID := os.Getenv("ANTHROPIC_MODEL_ID")
		if modelID == "" {
			modelID = "claude-3-5-haiku-20241022"
		}
		p, err := provider.NewAnthropic(ctx, &provider.AnthropicConfig{Model: modelID, MaxTokens: 256})
		Expect(err).NotTo(HaveOccurred())

		stream, err := p.Stream(ctx, &provider.Request{
			Model:    modelID,
			Messages: []*schema.Message{schema.UserMessage("Reply with the single word: pong")},
		})
		Expect(err).NotTo(HaveOccurred())
		events, err := collect(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.ToLower(textOf(events))).To(ContainSubstring("pong"))
	})
})
