package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/pkg/types"
)

const (
	// DefaultToolTimeout applies to tools without a toolTimeout entry.
	DefaultToolTimeout = 2 * time.Minute
	// DefaultApprovalTimeout bounds how long an ASK waits for an answer.
	DefaultApprovalTimeout = 5 * time.Minute
	// DefaultMaxSteps is the iteration cap of a run.
	DefaultMaxSteps = 50
	// DefaultPort is the HTTP API port.
	DefaultPort = 4096
)

// fileNames are the config file names looked up in each directory, lowest
// priority first.
var fileNames = []string{"opencode.yaml", "opencode.yml", "opencode.json", "opencode.jsonc"}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/opencode/)
// 2. Project config (<directory>/opencode.*)
// 3. Project config (<directory>/.opencode/opencode.*)
// 4. OPENCODE_CONFIG file
// 5. Environment variables
//
// A .env file in directory is loaded first; it never overrides variables that
// are already set.
func Load(directory string) (*types.Config, error) {
	if directory != "" {
		if err := godotenv.Load(filepath.Join(directory, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Agent:    make(map[string]types.AgentConfig),
	}

	for _, path := range Files(directory) {
		if err := loadConfigFile(path, config, filepath.Dir(path)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		logging.Debug().Str("path", path).Msg("loaded config file")
	}

	if configPath := os.Getenv("OPENCODE_CONFIG"); configPath != "" {
		if err := loadConfigFile(configPath, config, filepath.Dir(configPath)); err != nil {
			return nil, fmt.Errorf("OPENCODE_CONFIG %s: %w", configPath, err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	normalizeProviderConfig(config)
	applyDefaults(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Files returns every config file path Load consults for directory, lowest
// priority first. The files need not exist.
func Files(directory string) []string {
	var files []string
	dirs := []string{GetPaths().Config}
	if directory != "" {
		dirs = append(dirs, directory, filepath.Join(directory, ".opencode"))
	}
	for _, dir := range dirs {
		for _, name := range fileNames {
			files = append(files, filepath.Join(dir, name))
		}
	}
	return files
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		if data, err = json.Marshal(doc); err != nil {
			return err
		}
	default:
		// Strip JSONC comments using tidwall/jsonc
		data = jsonc.ToJSON(data)
	}

	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return escapeJSON(os.Getenv(envPattern.FindStringSubmatch(match)[1]))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		return escapeJSON(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

// escapeJSON escapes s for use inside a JSON string literal.
func escapeJSON(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}

// normalizeProviderConfig merges Options fields into direct fields for compatibility.
func normalizeProviderConfig(config *types.Config) {
	for name, provider := range config.Provider {
		if provider.Options != nil {
			if provider.Options.APIKey != "" {
				provider.APIKey = provider.Options.APIKey
			}
			if provider.Options.BaseURL != "" {
				provider.BaseURL = provider.Options.BaseURL
			}
		}
		config.Provider[name] = provider
	}
}

// mergeConfig merges source config into target. Maps merge per key; scalar
// fields and permission rule lists are replaced when set.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.DefaultAgent != "" {
		target.DefaultAgent = source.DefaultAgent
	}
	if source.MaxSteps != 0 {
		target.MaxSteps = source.MaxSteps
	}
	if source.ApprovalTimeout != 0 {
		target.ApprovalTimeout = source.ApprovalTimeout
	}

	if source.Tools != nil {
		if target.Tools == nil {
			target.Tools = make(map[string]bool)
		}
		for k, v := range source.Tools {
			target.Tools[k] = v
		}
	}

	if source.ToolTimeout != nil {
		if target.ToolTimeout == nil {
			target.ToolTimeout = make(map[string]types.Duration)
		}
		for k, v := range source.ToolTimeout {
			target.ToolTimeout[k] = v
		}
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}

	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = make(map[string]types.AgentConfig)
		}
		for k, v := range source.Agent {
			target.Agent[k] = v
		}
	}

	if source.Permission != nil {
		target.Permission = source.Permission
	}

	if source.Storage != nil {
		if target.Storage == nil {
			target.Storage = &types.StorageConfig{}
		}
		if source.Storage.Engine != "" {
			target.Storage.Engine = source.Storage.Engine
		}
		if source.Storage.Path != "" {
			target.Storage.Path = source.Storage.Path
		}
	}

	if source.Server != nil {
		if target.Server == nil {
			target.Server = &types.ServerConfig{}
		}
		if source.Server.Port != 0 {
			target.Server.Port = source.Server.Port
		}
		if source.Server.Hostname != "" {
			target.Server.Hostname = source.Server.Hostname
		}
	}

	if source.Log != nil {
		target.Log = source.Log
	}
}

// providerEnv maps provider ids to the variable holding their API key.
var providerEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) error {
	for provider, envVar := range providerEnv {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("OPENCODE_MODEL"); model != "" {
		config.Model = model
	}

	if permJSON := os.Getenv("OPENCODE_PERMISSION"); permJSON != "" {
		var rules []types.PermissionRule
		if err := json.Unmarshal([]byte(permJSON), &rules); err != nil {
			return fmt.Errorf("OPENCODE_PERMISSION: %w", err)
		}
		config.Permission = rules
	}
	return nil
}

func applyDefaults(config *types.Config) {
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultMaxSteps
	}
	if config.ApprovalTimeout <= 0 {
		config.ApprovalTimeout = types.Duration(DefaultApprovalTimeout)
	}
	if config.ToolTimeout == nil {
		config.ToolTimeout = make(map[string]types.Duration)
	}
	if _, ok := config.ToolTimeout["*"]; !ok {
		config.ToolTimeout["*"] = types.Duration(DefaultToolTimeout)
	}
	if config.Storage == nil {
		config.Storage = &types.StorageConfig{}
	}
	if config.Storage.Engine == "" {
		config.Storage.Engine = "file"
	}
	if config.Server == nil {
		config.Server = &types.ServerConfig{}
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.Hostname == "" {
		config.Server.Hostname = "127.0.0.1"
	}
	if config.Log == nil {
		config.Log = &types.LogConfig{Level: "info"}
	}
	for i := range config.Permission {
		if config.Permission[i].Tool == "" {
			config.Permission[i].Tool = "*"
		}
		config.Permission[i].Scope = types.ScopeConfig
	}
}

// Validate reports the first invalid setting.
func Validate(config *types.Config) error {
	for i, r := range config.Permission {
		if !r.Action.Valid() {
			return fmt.Errorf("permission rule %d: invalid action %q", i, r.Action)
		}
	}
	for name, a := range config.Agent {
		for i, r := range a.Permission {
			if !r.Action.Valid() {
				return fmt.Errorf("agent %s: permission rule %d: invalid action %q", name, i, r.Action)
			}
		}
	}
	for name, m := range config.MCP {
		switch m.Type {
		case "remote":
			if m.URL == "" {
				return fmt.Errorf("mcp %s: remote server needs a url", name)
			}
		case "local", "stdio":
			if len(m.Command) == 0 {
				return fmt.Errorf("mcp %s: local server needs a command", name)
			}
		default:
			return fmt.Errorf("mcp %s: unknown type %q", name, m.Type)
		}
	}
	if config.Storage != nil {
		switch config.Storage.Engine {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage: unknown engine %q", config.Storage.Engine)
		}
	}
	if config.Model != "" && !strings.Contains(config.Model, "/") {
		return fmt.Errorf("model %q: expected provider/model", config.Model)
	}
	return nil
}

// ToolTimeouts returns the per-tool timeouts as time.Durations.
func ToolTimeouts(config *types.Config) map[string]time.Duration {
	out := make(map[string]time.Duration, len(config.ToolTimeout))
	for k, v := range config.ToolTimeout {
		out[k] = v.Std()
	}
	return out
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
