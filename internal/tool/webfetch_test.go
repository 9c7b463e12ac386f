package tool

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<html><head><title>T</title><style>body{}</style></head>
<body><h1>Heading</h1><p>Some <b>bold</b> text.</p><script>alert(1)</script></body></html>`

func TestWebFetchTool_Formats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer server.Close()

	tool := NewWebFetchTool(server.Client())

	result, err := run(t, tool, "", map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("markdown fetch failed: %v", err)
	}
	if !strings.Contains(result.Output, "# Heading") || !strings.Contains(result.Output, "**bold**") {
		t.Errorf("markdown = %q", result.Output)
	}
	if strings.Contains(result.Output, "alert") {
		t.Errorf("script leaked into markdown: %q", result.Output)
	}

	result, err = run(t, tool, "", map[string]any{"url": server.URL, "format": "text"})
	if err != nil {
		t.Fatalf("text fetch failed: %v", err)
	}
	if !strings.Contains(result.Output, "Heading Some bold text.") {
		t.Errorf("text = %q", result.Output)
	}
	if strings.Contains(result.Output, "alert") || strings.Contains(result.Output, "body{}") {
		t.Errorf("non-content leaked into text: %q", result.Output)
	}

	result, err = run(t, tool, "", map[string]any{"url": server.URL, "format": "html"})
	if err != nil {
		t.Fatalf("html fetch failed: %v", err)
	}
	if result.Output != samplePage {
		t.Errorf("html should be returned verbatim")
	}
}

func TestWebFetchTool_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()
	tool := NewWebFetchTool(server.Client())

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"scheme", "ftp://example.com", "http:// or https://"},
		{"no scheme", "example.com", "http:// or https://"},
		{"status", server.URL, "status 404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tool, "", map[string]any{"url": tt.url})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
