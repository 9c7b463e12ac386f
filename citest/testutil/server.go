package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/server"
	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// TestServer wraps a listening server over a scripted model.
type TestServer struct {
	Server   *server.Server
	BaseURL  string
	Config   *types.Config
	Store    storage.Store
	LLM      *provider.ScriptedProvider
	Perms    *permission.Engine
	Sessions *session.Service
	TempDir  string
	WorkDir  string
	bus      *event.Bus
	port     int
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	workDir string
	engine  string
	script  provider.Script
	rules   []types.PermissionRule
}

// WithWorkDir sets the working directory
func WithWorkDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.workDir = dir
	}
}

// WithStorageEngine selects the store engine, "file" or "sqlite".
func WithStorageEngine(engine string) TestServerOption {
	return func(c *testServerConfig) {
		c.engine = engine
	}
}

// WithScript sets the turns the scripted model plays.
func WithScript(script provider.Script) TestServerOption {
	return func(c *testServerConfig) {
		c.script = script
	}
}

// WithRules sets the configuration permission rules.
func WithRules(rules ...types.PermissionRule) TestServerOption {
	return func(c *testServerConfig) {
		c.rules = rules
	}
}

// StartTestServer creates and starts a test server
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{engine: storage.EngineFile}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.script == nil {
		cfg.script = provider.Sequence(provider.Text("Hello, World!"))
	}

	tempDir, err := os.MkdirTemp("", "opencode-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	workDir := cfg.workDir
	if workDir == "" {
		workDir = filepath.Join(tempDir, "work")
		if err := os.MkdirAll(workDir, 0755); err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	storePath := filepath.Join(tempDir, "storage")
	if cfg.engine == storage.EngineSQLite {
		storePath = filepath.Join(tempDir, "opencode.db")
	}
	store, err := storage.Open(cfg.engine, storePath)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	appConfig := &types.Config{
		Model:      "scripted/test-model",
		Permission: cfg.rules,
	}

	llm := provider.NewScriptedProvider("scripted", "test-model", cfg.script)
	providers := provider.NewRegistry(appConfig)
	providers.Register(llm)

	tools := tool.NewRegistry()
	if err := tool.RegisterBuiltins(tools); err != nil {
		store.Close()
		os.RemoveAll(tempDir)
		return nil, err
	}

	bus := event.NewBus()
	approver := permission.NewBusApprover(bus)
	perms := permission.NewEngine(cfg.rules,
		permission.WithApprover(approver),
		permission.WithApprovalTimeout(30*time.Second),
	)
	proc := session.NewProcessor(store, providers, tool.NewExecutor(tools, tool.WithBus(bus)), perms,
		session.WithBus(bus),
		session.WithRetryBackoff(func(ctx context.Context) backoff.BackOff {
			return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
		}),
	)
	sessions := session.NewService(store, proc)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	serverConfig.Directory = workDir
	srv := server.New(serverConfig, appConfig, sessions, tools, approver)

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(context.Background())
		bus.Close()
		store.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:   srv,
		BaseURL:  baseURL,
		Config:   appConfig,
		Store:    store,
		LLM:      llm,
		Perms:    perms,
		Sessions: sessions,
		TempDir:  tempDir,
		WorkDir:  workDir,
		bus:      bus,
		port:     port,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Server != nil {
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}
	if ts.bus != nil {
		ts.bus.Close()
	}
	if ts.Store != nil {
		ts.Store.Close()
	}
	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}
	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
