// Package config provides configuration loading and path management.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// Paths contains the standard paths for engine data.
type Paths struct {
	Data   string // ~/.local/share/opencode
	Config string // ~/.config/opencode
	Cache  string // ~/.cache/opencode
	State  string // ~/.local/state/opencode
}

// GetPaths returns the standard paths for engine data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "opencode"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "opencode"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "opencode"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "opencode"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the path to the storage directory.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// DatabasePath returns the path to the SQLite database.
func (p *Paths) DatabasePath() string {
	return filepath.Join(p.Data, "opencode.db")
}

// LogPath returns the path of the log file used when logs are not printed.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "opencode.log")
}

// StoreLocation returns the storage engine and path selected by config,
// defaulting the path to the engine's location under Data.
func (p *Paths) StoreLocation(config *types.Config) (engine, path string) {
	engine = "file"
	if config != nil && config.Storage != nil {
		if config.Storage.Engine != "" {
			engine = config.Storage.Engine
		}
		path = config.Storage.Path
	}
	if path == "" {
		if engine == "sqlite" {
			path = p.DatabasePath()
		} else {
			path = p.StoragePath()
		}
	}
	return engine, path
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
