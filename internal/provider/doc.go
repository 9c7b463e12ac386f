// Package provider adapts language model backends to the streaming contract
// used by the agent loop.
//
// A Provider turns a Request into a Stream of events: text and reasoning
// deltas, whole tool calls, token usage and a final done or error event.
// Backends built on eino chat models go through EinoProvider, which binds the
// request tools, merges streamed tool-call fragments and classifies upstream
// failures as *Error values carrying retryability:
//
//	p, err := provider.NewAnthropic(ctx, &provider.AnthropicConfig{
//		APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//		Model:  "claude-sonnet-4-20250514",
//	})
//	stream, err := p.Stream(ctx, &provider.Request{
//		Model:    "claude-sonnet-4-20250514",
//		Messages: provider.ConvertHistory(history),
//		Tools:    tools,
//	})
//	defer stream.Close()
//	for {
//		ev, err := stream.Recv()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
//
// NewAnthropic, NewOpenAI and NewArk cover the built-in backends. Any other
// configured provider id is treated as an OpenAI-compatible endpoint.
// InitializeProviders builds a Registry from configuration, and
// ScriptedProvider replays canned turns for tests and offline runs.
package provider
