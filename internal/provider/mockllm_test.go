package provider_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// mockToolCall is a tool call the mock server streams back in fragments.
type mockToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// mockReply is the canned answer for one request.
type mockReply struct {
	Content   string
	ToolCalls []mockToolCall
	Status    int
}

// mockLLM mimics the streaming OpenAI chat completions API.
type mockLLM struct {
	server *httptest.Server

	mu       sync.Mutex
	replies  []mockReply
	requests []map[string]any
}

func newMockLLM(replies ...mockReply) *mockLLM {
	m := &mockLLM{replies: replies}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	m.server = httptest.NewServer(mux)
	return m
}

func (m *mockLLM) URL() string { return m.server.URL + "/v1" }

func (m *mockLLM) Close() { m.server.Close() }

func (m *mockLLM) Requests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.requests...)
}

func (m *mockLLM) next() mockReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return mockReply{Content: "ok"}
	}
	r := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return r
}

func (m *mockLLM) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	reply := m.next()
	if reply.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.Status)
		fmt.Fprintf(w, `{"error":{"message":"mock failure","type":"server_error","code":"%d"}}`, reply.Status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	send := func(delta map[string]any, finish any, usage map[string]any) {
		chunk := map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": 1700000000,
			"model":   "mock-gpt",
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		}
		if usage != nil {
			chunk["usage"] = usage
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	send(map[string]any{"role": "assistant"}, nil, nil)
	words := strings.Fields(reply.Content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		send(map[string]any{"content": word}, nil, nil)
	}
	for i, tc := range reply.ToolCalls {
		send(map[string]any{"tool_calls": []map[string]any{{
			"index": i, "id": tc.ID, "type": "function",
			"function": map[string]any{"name": tc.Name, "arguments": ""},
		}}}, nil, nil)
		half := len(tc.Arguments) / 2
		for _, frag := range []string{tc.Arguments[:half], tc.Arguments[half:]} {
			send(map[string]any{"tool_calls": []map[string]any{{
				"index": i, "function": map[string]any{"arguments": frag},
			}}}, nil, nil)
		}
	}

	finish := "stop"
	if len(reply.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	send(map[string]any{}, finish, map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150})
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
