package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the engine configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Model selection, "provider/model"
	Model string `json:"model,omitempty"`

	// Default agent profile
	DefaultAgent string `json:"default_agent,omitempty"`

	// Provider configs
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// Agent profile overrides
	Agent map[string]AgentConfig `json:"agent,omitempty"`

	// Global tools enable/disable
	Tools map[string]bool `json:"tools,omitempty"`

	// Persistent permission rules
	Permission []PermissionRule `json:"permission,omitempty"`

	// Maximum Streaming/Resolving round-trips per run
	MaxSteps int `json:"maxSteps,omitempty"`

	// Per-tool execution timeout; the "*" key sets the default
	ToolTimeout map[string]Duration `json:"toolTimeout,omitempty"`

	// How long an ASK decision waits for the approver
	ApprovalTimeout Duration `json:"approvalTimeout,omitempty"`

	// MCP servers whose tools are registered next to the built-ins
	MCP map[string]MCPConfig `json:"mcp,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Server  *ServerConfig  `json:"server,omitempty"`
	Log     *LogConfig     `json:"log,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Model/Endpoint ID (for providers like ARK that require endpoint specification)
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`

	// Nested options (TypeScript style)
	Options *ProviderOptions `json:"options,omitempty"`

	Disable bool `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options.
type ProviderOptions struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// AgentConfig overrides or defines an agent profile.
type AgentConfig struct {
	Model       string           `json:"model,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Prompt      string           `json:"prompt,omitempty"`
	Tools       map[string]bool  `json:"tools,omitempty"`
	Permission  []PermissionRule `json:"permission,omitempty"`
	MaxSteps    int              `json:"maxSteps,omitempty"`
	Description string           `json:"description,omitempty"`
	Disable     bool             `json:"disable,omitempty"`
}

// MCPConfig describes one MCP server. Remote servers are reached at URL,
// local ones are started from Command and spoken to over stdio.
type MCPConfig struct {
	Type        string            `json:"type"` // "remote" | "local"
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     Duration          `json:"timeout,omitempty"`
	Disable     bool              `json:"disable,omitempty"`
}

// StorageConfig selects the message store backend.
type StorageConfig struct {
	Engine string `json:"engine,omitempty"` // "file" | "sqlite"
	Path   string `json:"path,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port     int    `json:"port,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}

// Duration is a time.Duration that decodes from "90s"-style strings or milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*d = Duration(time.Duration(t) * time.Millisecond)
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	ProviderID        string  `json:"providerID"`
	ContextLength     int     `json:"contextLength"`
	MaxOutputTokens   int     `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool    `json:"supportsTools"`
	SupportsReasoning bool    `json:"supportsReasoning,omitempty"`
	InputPrice        float64 `json:"inputPrice,omitempty"`      // per 1M tokens
	OutputPrice       float64 `json:"outputPrice,omitempty"`     // per 1M tokens
	CacheReadPrice    float64 `json:"cacheReadPrice,omitempty"`  // per 1M tokens
	CacheWritePrice   float64 `json:"cacheWritePrice,omitempty"` // per 1M tokens
}
