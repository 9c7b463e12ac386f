package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// DefaultTimeout bounds connecting to a server and listing its tools.
const DefaultTimeout = 10 * time.Second

// ErrUnknownTool is returned by CallTool for a name no connected server offers.
var ErrUnknownTool = errors.New("unknown mcp tool")

// Client manages MCP server connections using the official MCP SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
}

// mcpServer represents a configured server.
type mcpServer struct {
	name    string
	session *sdkmcp.ClientSession
	tools   []Tool
	status  Status
	version string
	err     string
}

// NewClient creates a new MCP client.
func NewClient(version string) *Client {
	return &Client{
		servers: make(map[string]*mcpServer),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "opencode",
			Version: version,
		}, nil),
	}
}

// Connect creates a client and adds every server of cfg in name order.
// Servers that fail are logged and reported by Status.
func Connect(ctx context.Context, cfg *types.Config, version string) *Client {
	c := NewClient(version)
	names := make([]string, 0, len(cfg.MCP))
	for name := range cfg.MCP {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.AddServer(ctx, name, cfg.MCP[name]); err != nil {
			logging.Warn().Err(err).Str("server", name).Msg("mcp server unavailable")
		}
	}
	return c
}

// AddServer connects to a server and lists its tools.
func (c *Client) AddServer(ctx context.Context, name string, config types.MCPConfig) error {
	c.mu.Lock()
	if _, ok := c.servers[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("server already exists: %s", name)
	}
	server := &mcpServer{name: name}
	c.servers[name] = server
	c.mu.Unlock()

	if config.Disable {
		c.setStatus(server, StatusDisabled, nil)
		return nil
	}

	session, err := c.connect(ctx, config)
	if err != nil {
		c.setStatus(server, StatusFailed, err)
		return err
	}

	timeout := config.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		session.Close()
		err = fmt.Errorf("list tools: %w", err)
		c.setStatus(server, StatusFailed, err)
		return err
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, _ := json.Marshal(t.InputSchema)
		tools = append(tools, Tool{
			Name:        sanitizeToolName(name) + "_" + sanitizeToolName(t.Name),
			Server:      name,
			Remote:      t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	c.mu.Lock()
	server.session = session
	server.tools = tools
	server.status = StatusConnected
	if init := session.InitializeResult(); init != nil && init.ServerInfo != nil {
		server.version = init.ServerInfo.Version
	}
	c.mu.Unlock()

	logging.Info().Str("server", name).Int("tools", len(tools)).Msg("mcp server connected")
	return nil
}

func (c *Client) setStatus(s *mcpServer, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.status = status
	if err != nil {
		s.err = err.Error()
	}
}

// connect opens a session over the transport config selects.
func (c *Client) connect(ctx context.Context, config types.MCPConfig) (*sdkmcp.ClientSession, error) {
	timeout := config.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch config.Type {
	case "remote":
		httpClient := httpClientWithHeaders(nil, config.Headers)
		transports := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{name: "streamable", transport: &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
			{name: "sse", transport: &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
		}

		var errs []error
		for _, candidate := range transports {
			// The session outlives the connect deadline, so only the
			// handshake is bounded.
			connectCtx, cancel := context.WithTimeout(ctx, timeout)
			session, err := c.sdkClient.Connect(connectCtx, candidate.transport, nil)
			cancel()
			if err == nil {
				return session, nil
			}
			errs = append(errs, fmt.Errorf("%s transport: %w", candidate.name, err))
		}
		return nil, errors.Join(errs...)

	case "local", "stdio":
		if len(config.Command) == 0 {
			return nil, errors.New("empty command")
		}
		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.sdkClient.Connect(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, nil)

	default:
		return nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	// Copy to avoid mutating caller-provided client
	client := *base
	client.Timeout = 0 // no global timeout; rely on per-request contexts

	if len(headers) == 0 {
		return &client
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &headerRoundTripper{headers: headers, next: transport}
	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// Tools returns the tools of every connected server, sorted by name.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for _, server := range c.servers {
		if server.status == StatusConnected {
			all = append(all, server.tools...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// CallTool runs a tool by its registry name and returns its text output.
// A result the server flags as an error is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	var (
		session *sdkmcp.ClientSession
		remote  string
	)
	for _, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		for _, t := range server.tools {
			if t.Name == name {
				session, remote = server.session, t.Remote
				break
			}
		}
		if session != nil {
			break
		}
	}
	c.mu.RUnlock()

	if session == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", fmt.Errorf("failed to parse arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: remote, Arguments: argsMap})
	if err != nil {
		return "", err
	}

	var output strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(text.Text)
		}
	}
	if result.IsError {
		if output.Len() == 0 {
			return "", errors.New("tool execution failed")
		}
		return "", fmt.Errorf("tool error: %s", output.String())
	}
	return output.String(), nil
}

// Status returns the status of every configured server, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServerStatus, 0, len(c.servers))
	for name, s := range c.servers {
		out = append(out, ServerStatus{
			Name:      name,
			Status:    s.status,
			Version:   s.version,
			ToolCount: len(s.tools),
			Error:     s.err,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, s := range c.servers {
		if s.session != nil {
			if err := s.session.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
			s.session = nil
		}
		s.status = StatusDisabled
	}
	return errors.Join(errs...)
}

// sanitizeToolName replaces non-alphanumeric chars with underscore.
func sanitizeToolName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}
