package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Patch performs HTTP PATCH request with JSON body
func (c *TestClient) Patch(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, body, opts...)
}

// Put performs HTTP PUT request with JSON body
func (c *TestClient) Put(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body, opts...)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, opts...)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	fullURL := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Session Helpers ----

// ErrorResponse is the error body returned by the API.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError is returned by the typed helpers on a non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func decodeResponse(resp *Response, v interface{}) error {
	if !resp.IsSuccess() {
		var body ErrorResponse
		_ = resp.JSON(&body)
		return &StatusError{StatusCode: resp.StatusCode, Code: body.Error.Code, Message: body.Error.Message}
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}

// CreateSession creates a new session
func (c *TestClient) CreateSession(ctx context.Context, directory, title string) (*types.Session, error) {
	resp, err := c.Post(ctx, "/session", map[string]string{"directory": directory, "title": title})
	if err != nil {
		return nil, err
	}
	var session types.Session
	if err := decodeResponse(resp, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by ID
func (c *TestClient) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	resp, err := c.Get(ctx, "/session/"+sessionID)
	if err != nil {
		return nil, err
	}
	var session types.Session
	if err := decodeResponse(resp, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession deletes a session and its forks
func (c *TestClient) DeleteSession(ctx context.Context, sessionID string) error {
	resp, err := c.Delete(ctx, "/session/"+sessionID)
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

// ListSessions lists sessions, including archived ones
func (c *TestClient) ListSessions(ctx context.Context) ([]types.Session, error) {
	resp, err := c.Get(ctx, "/session", WithQuery(map[string]string{"archived": "true"}))
	if err != nil {
		return nil, err
	}
	var sessions []types.Session
	if err := decodeResponse(resp, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ForkSession forks a session up to messageID, or whole when it is empty
func (c *TestClient) ForkSession(ctx context.Context, sessionID, messageID string) (*types.Session, error) {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/fork", map[string]string{"messageID": messageID})
	if err != nil {
		return nil, err
	}
	var session types.Session
	if err := decodeResponse(resp, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetUsage returns the accumulated usage of a session
func (c *TestClient) GetUsage(ctx context.Context, sessionID string) (*types.Usage, error) {
	resp, err := c.Get(ctx, "/session/"+sessionID+"/usage")
	if err != nil {
		return nil, err
	}
	var usage types.Usage
	if err := decodeResponse(resp, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// ---- Message Helpers ----

// SendMessage runs one turn and returns the assistant message
func (c *TestClient) SendMessage(ctx context.Context, sessionID, content string) (*types.MessageWithParts, error) {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/message", map[string]string{"text": content})
	if err != nil {
		return nil, err
	}
	var msg types.MessageWithParts
	if err := decodeResponse(resp, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessages returns the session history
func (c *TestClient) GetMessages(ctx context.Context, sessionID string) ([]types.MessageWithParts, error) {
	resp, err := c.Get(ctx, "/session/"+sessionID+"/message")
	if err != nil {
		return nil, err
	}
	var msgs []types.MessageWithParts
	if err := decodeResponse(resp, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// RespondPermission answers a pending permission request
func (c *TestClient) RespondPermission(ctx context.Context, sessionID, permissionID, response string) error {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/permissions/"+permissionID, map[string]string{"response": response})
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

// MessageText concatenates the text parts of msg.
func MessageText(msg *types.MessageWithParts) string {
	var text string
	for _, p := range msg.Parts {
		if t, ok := p.(*types.TextPart); ok {
			text += t.Text
		}
	}
	return text
}
