// Package config provides configuration loading, merging, watching and path
// management for the engine.
//
// # Configuration Loading
//
// Load merges configuration from several sources, lowest priority first:
//
//  1. Global config in the XDG config directory (~/.config/opencode/)
//  2. Project config (opencode.yaml, opencode.json or opencode.jsonc)
//  3. Project config under .opencode/
//  4. The file named by OPENCODE_CONFIG
//  5. Environment variables
//
// A .env file in the project directory is loaded before anything else with
// godotenv. Variables already set in the environment win over the file.
//
// # Supported Formats
//
//   - opencode.json - Standard JSON configuration
//   - opencode.jsonc - JSON with comments, processed using tidwall/jsonc
//   - opencode.yaml / opencode.yml - YAML, decoded with gopkg.in/yaml.v3
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} - Expands to environment variable values
//   - {file:path} - Expands to file contents (escaped for JSON)
//
// Relative {file:} paths resolve against the directory of the config file
// that contains them; ~/ expands to the home directory.
//
//	{
//	  "model": "anthropic/claude-sonnet-4-20250514",
//	  "provider": {
//	    "anthropic": {"apiKey": "{env:ANTHROPIC_API_KEY}"}
//	  },
//	  "permission": [
//	    {"tool": "bash", "pattern": "git *", "action": "allow"},
//	    {"tool": "bash", "pattern": "rm *", "action": "deny"}
//	  ],
//	  "toolTimeout": {"bash": "5m"},
//	  "storage": {"engine": "sqlite"}
//	}
//
// # Configuration Merging
//
// Maps (provider, agent, mcp, tools, toolTimeout) merge per key. Scalars and the
// permission rule list are replaced by the later source.
//
// # Path Management
//
// Paths follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/opencode (XDG_DATA_HOME)
//   - Config: ~/.config/opencode (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/opencode (XDG_CACHE_HOME)
//   - State: ~/.local/state/opencode (XDG_STATE_HOME)
//
// # Environment Variable Overrides
//
//   - OPENCODE_MODEL - Override the default model
//   - OPENCODE_PERMISSION - JSON list of permission rules
//   - OPENCODE_CONFIG - Path to a specific config file
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, ARK_API_KEY - Provider keys
//
// # Watching
//
// Watcher reloads the configuration when a config file changes and hands the
// result to a callback; the server uses it to swap permission rules without a
// restart.
package config
