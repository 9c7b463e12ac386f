package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// testEnv is a server over a scripted model, a file store and a bus approver.
type testEnv struct {
	dir      string
	bus      *event.Bus
	llm      *provider.ScriptedProvider
	approver *permission.BusApprover
	svc      *session.Service
	srv      *Server
	http     *httptest.Server
}

var guardedDefinition = tool.Definition{
	Name:        "guarded",
	Description: "Does nothing, but asks first.",
}

func newTestEnv(t *testing.T, script provider.Script, rules ...types.PermissionRule) *testEnv {
	t.Helper()

	env := &testEnv{dir: t.TempDir(), bus: event.NewBus()}
	t.Cleanup(func() { env.bus.Close() })

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	if script == nil {
		script = provider.Sequence(provider.Text("hello"))
	}
	env.llm = provider.NewScriptedProvider("scripted", "test-model", script)
	cfg := &types.Config{
		Model: "scripted/test-model",
		Provider: map[string]types.ProviderConfig{
			"anthropic": {APIKey: "sk-secret", Options: &types.ProviderOptions{APIKey: "sk-nested"}},
		},
	}
	providers := provider.NewRegistry(cfg)
	providers.Register(env.llm)

	tools := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(tools))
	require.NoError(t, tools.Register(guardedDefinition, tool.HandlerFunc(
		func(ctx context.Context, _ json.RawMessage, _ *tool.Context) (*tool.Result, error) {
			return &tool.Result{Title: "guarded", Output: "guarded ran"}, nil
		})))

	env.approver = permission.NewBusApprover(env.bus)
	perms := permission.NewEngine(rules,
		permission.WithApprover(env.approver),
		permission.WithApprovalTimeout(5*time.Second),
		permission.WithDoomLoopDetector(nil),
	)

	proc := session.NewProcessor(store, providers, tool.NewExecutor(tools, tool.WithBus(env.bus)), perms,
		session.WithBus(env.bus),
		session.WithRetryBackoff(func(ctx context.Context) backoff.BackOff {
			return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
		}),
	)
	env.svc = session.NewService(store, proc)

	srvCfg := DefaultConfig()
	srvCfg.Directory = env.dir
	env.srv = New(srvCfg, cfg, env.svc, tools, env.approver)
	env.http = httptest.NewServer(env.srv.Router())
	t.Cleanup(env.http.Close)
	return env
}

// do sends a JSON request and returns the response with its body read.
func (env *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := env.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// decode unmarshals data into a new T.
func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func (env *testEnv) createSession(t *testing.T) *types.Session {
	t.Helper()
	resp, body := env.do(t, http.MethodPost, "/session", CreateSessionRequest{Title: "test"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	return decode[*types.Session](t, body)
}
