package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// TempDir creates a temporary directory
type TempDir struct {
	Path string
}

// NewTempDir creates a temp directory
func NewTempDir() (*TempDir, error) {
	path, err := os.MkdirTemp("", "opencode-test-*")
	if err != nil {
		return nil, err
	}
	return &TempDir{Path: path}, nil
}

// CreateFile creates a file in the temp directory and returns its path
func (d *TempDir) CreateFile(name, content string) (string, error) {
	path := filepath.Join(d.Path, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadFile returns the content of a file in the temp directory
func (d *TempDir) ReadFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.Path, name))
	return string(data), err
}

// Cleanup removes the temp directory and all contents
func (d *TempDir) Cleanup() {
	os.RemoveAll(d.Path)
}

// ---- Test Session Manager ----

// SessionManager manages test sessions for cleanup
type SessionManager struct {
	client   *TestClient
	sessions []string
}

// NewSessionManager creates a session manager
func NewSessionManager(client *TestClient) *SessionManager {
	return &SessionManager{client: client}
}

// Create creates a session and tracks it for cleanup
func (m *SessionManager) Create(ctx context.Context, dir string) (*types.Session, error) {
	session, err := m.client.CreateSession(ctx, dir, "")
	if err != nil {
		return nil, err
	}
	m.sessions = append(m.sessions, session.ID)
	return session, nil
}

// Cleanup deletes all tracked sessions. Sessions already removed, for
// example as forks of a deleted parent, are ignored.
func (m *SessionManager) Cleanup(ctx context.Context) {
	for _, id := range m.sessions {
		_ = m.client.DeleteSession(ctx, id)
	}
	m.sessions = m.sessions[:0]
}
