package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("expected Level to be InfoLevel, got %v", cfg.Level)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected Output to be os.Stderr")
	}
	if cfg.Pretty {
		t.Errorf("expected Pretty to be false")
	}
	if cfg.TimeFormat != time.RFC3339 {
		t.Errorf("expected TimeFormat to be RFC3339, got %s", cfg.TimeFormat)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"  DEBUG  ", DebugLevel},
		{"INFO", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"fatal", FatalLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := ParseLevel(tt.input); result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestInit_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: WarnLevel, Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Init(DefaultConfig())

	Info().Msg("hidden")
	Warn().Str("sessionID", "ses_1").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered: %s", out)
	}
	if !strings.Contains(out, `"sessionID":"ses_1"`) {
		t.Errorf("expected structured field in output: %s", out)
	}
}

func TestForComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: DebugLevel, Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Init(DefaultConfig())

	log := ForComponent("storage")
	log.Debug().Msg("opened")

	if !strings.Contains(buf.String(), `"component":"storage"`) {
		t.Errorf("expected component field: %s", buf.String())
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engine.log")
	if err := Init(Config{Level: InfoLevel, File: path, Pretty: true}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Info().Msg("to file")
	Close()
	defer Init(DefaultConfig())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"to file"`) {
		t.Errorf("expected JSON line in log file, got %s", data)
	}
}
