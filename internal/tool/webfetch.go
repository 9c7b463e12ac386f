package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/opencode-ai/agentcore/internal/permission"
)

const (
	maxResponseSize = 5 * 1024 * 1024
	fetchTimeout    = 30 * time.Second
)

const webfetchDescription = `Fetches a URL and returns its content.

Usage:
- url must start with http:// or https://
- format is markdown (default), text or html
- HTML pages are converted for markdown and text
- Responses over 5MB are rejected`

// WebFetchTool fetches web pages.
type WebFetchTool struct {
	client *http.Client
}

type webfetchInput struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
}

// NewWebFetchTool creates the tool. A nil client uses one with a 30s timeout.
func NewWebFetchTool(client *http.Client) *WebFetchTool {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &WebFetchTool{client: client}
}

func (t *WebFetchTool) Definition() Definition {
	return Definition{
		Name:        "webfetch",
		Description: webfetchDescription,
		ReadOnly:    true,
		Parameters: []Parameter{
			{Name: "url", Type: TypeString, Required: true, Description: "The URL to fetch"},
			{Name: "format", Type: TypeString, Enum: []string{"markdown", "text", "html"}, Description: "Output format"},
		},
	}
}

// Action matches rules against the URL. Fetches are read-only but leave the
// project, so they are never allowed by default.
func (t *WebFetchTool) Action(input json.RawMessage, workDir string) permission.Action {
	var in webfetchInput
	_ = decode(input, &in)
	return permission.Action{Pattern: in.URL, WorkDir: workDir}
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in webfetchInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
		return nil, errors.New("url must start with http:// or https://")
	}
	if in.Format == "" {
		in.Format = "markdown"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "agentcore-webfetch/1.0")
	switch in.Format {
	case "html":
		req.Header.Set("Accept", "text/html;q=1.0, application/xhtml+xml;q=0.9, */*;q=0.1")
	default:
		req.Header.Set("Accept", "text/markdown;q=1.0, text/plain;q=0.9, text/html;q=0.8, */*;q=0.1")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxResponseSize {
		return nil, errors.New("response exceeds 5MB")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, errors.New("response exceeds 5MB")
	}

	contentType := resp.Header.Get("Content-Type")
	output := string(body)
	if strings.Contains(contentType, "text/html") {
		switch in.Format {
		case "markdown":
			output, err = htmlToMarkdown(output)
		case "text":
			output, err = htmlToText(output)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", contentType, err)
		}
	}

	return &Result{
		Title:  in.URL,
		Output: output,
		Metadata: map[string]any{
			"url":         in.URL,
			"contentType": contentType,
			"bytes":       len(body),
		},
	}, nil
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, object, embed").Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")
	return converter.ConvertString(html)
}
