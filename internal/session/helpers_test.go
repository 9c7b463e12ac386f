package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// testingT is satisfied by *testing.T and GinkgoT().
type testingT interface {
	require.TestingT
	Helper()
	TempDir() string
	Cleanup(func())
}

type harnessConfig struct {
	script   provider.Script
	rules    []types.PermissionRule
	engine   []permission.Option
	opts     []ProcessorOption
	pricing  [2]float64
	useBus   bool
	approver bool
}

type harnessOption func(*harnessConfig)

func withScript(turns ...provider.Turn) harnessOption {
	return func(c *harnessConfig) { c.script = provider.Sequence(turns...) }
}

func withRules(rules ...types.PermissionRule) harnessOption {
	return func(c *harnessConfig) { c.rules = rules }
}

func withEngine(opts ...permission.Option) harnessOption {
	return func(c *harnessConfig) { c.engine = append(c.engine, opts...) }
}

func withProcessor(opts ...ProcessorOption) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func withPricing(input, output float64) harnessOption {
	return func(c *harnessConfig) { c.pricing = [2]float64{input, output} }
}

// withBusApprover routes ASK verdicts to a BusApprover nobody answers unless
// the test does.
func withBusApprover() harnessOption {
	return func(c *harnessConfig) { c.approver = true }
}

// harness wires a processor to a scripted model, a file store in a temp
// directory and the built-in tools plus a few test tools.
type harness struct {
	dir      string
	store    storage.Store
	bus      *event.Bus
	llm      *provider.ScriptedProvider
	tools    *tool.Registry
	perms    *permission.Engine
	approver *permission.BusApprover
	proc     *Processor
	svc      *Service
	bash     *recordingBash
	release  chan struct{}
}

func newHarness(t testingT, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{script: provider.Sequence(provider.Text("done"))}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		dir:     t.TempDir(),
		bus:     event.NewBus(),
		release: make(chan struct{}),
	}
	t.Cleanup(func() { h.bus.Close() })

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	h.store = store

	h.llm = provider.NewScriptedProvider("scripted", "test-model", cfg.script)
	if cfg.pricing != [2]float64{} {
		h.llm.WithPricing(cfg.pricing[0], cfg.pricing[1])
	}
	providers := provider.NewRegistry(&types.Config{Model: "scripted/test-model"})
	providers.Register(h.llm)

	h.tools = tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(h.tools))
	h.bash = &recordingBash{}
	require.NoError(t, h.tools.Register(h.bash.Definition(), h.bash))
	require.NoError(t, h.tools.Register(sleepDefinition, tool.HandlerFunc(sleepTool)))
	require.NoError(t, h.tools.Register(blockDefinition, tool.HandlerFunc(func(ctx context.Context, _ json.RawMessage, _ *tool.Context) (*tool.Result, error) {
		select {
		case <-h.release:
			return &tool.Result{Title: "released", Output: "released"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})))

	engineOpts := append([]permission.Option{permission.WithDoomLoopDetector(nil)}, cfg.engine...)
	if cfg.approver {
		h.approver = permission.NewBusApprover(h.bus)
		engineOpts = append(engineOpts, permission.WithApprover(h.approver))
	}
	h.perms = permission.NewEngine(cfg.rules, engineOpts...)

	procOpts := append([]ProcessorOption{
		WithBus(h.bus),
		WithRetryBackoff(func(ctx context.Context) backoff.BackOff {
			return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, MaxRetries), ctx)
		}),
	}, cfg.opts...)
	h.proc = NewProcessor(store, providers, tool.NewExecutor(h.tools, tool.WithBus(h.bus)), h.perms, procOpts...)
	h.svc = NewService(store, h.proc)
	return h
}

func (h *harness) newSession(t testingT) *types.Session {
	t.Helper()
	sess, err := h.svc.Create(context.Background(), CreateInput{Directory: h.dir, Title: "test"})
	require.NoError(t, err)
	return sess
}

// states records loop.state transitions published for sessionID.
func (h *harness) states(sessionID string) func() []LoopState {
	var (
		mu  sync.Mutex
		out []LoopState
	)
	h.bus.Subscribe(event.LoopState, func(e event.Event) {
		d := e.Data.(event.LoopStateData)
		if d.SessionID != sessionID {
			return
		}
		mu.Lock()
		out = append(out, LoopState(d.State))
		mu.Unlock()
	})
	return func() []LoopState {
		mu.Lock()
		defer mu.Unlock()
		return append([]LoopState(nil), out...)
	}
}

// onRunning signals once a call of tool reaches the running state.
func (h *harness) onRunning(toolName string) <-chan struct{} {
	ch := make(chan struct{})
	var once sync.Once
	h.bus.Subscribe(event.PartUpdated, func(e event.Event) {
		call, ok := e.Data.(event.PartData).Part.(*types.ToolCallPart)
		if ok && call.Tool == toolName && call.State.Status == types.ToolRunning {
			once.Do(func() { close(ch) })
		}
	})
	return ch
}

func partsOf[T types.Part](parts []types.Part) []T {
	var out []T
	for _, p := range parts {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// recordingBash is the bash tool with execution replaced by a counter, so
// tests can tell whether a command would have been spawned.
type recordingBash struct {
	tool.BashTool
	runs atomic.Int32
}

func (b *recordingBash) Execute(ctx context.Context, input json.RawMessage, tc *tool.Context) (*tool.Result, error) {
	b.runs.Add(1)
	return &tool.Result{Title: "recorded", Output: ""}, nil
}

var sleepDefinition = tool.Definition{
	Name:        "sleep",
	Description: "Sleeps for ms milliseconds and echoes label.",
	ReadOnly:    true,
	Parameters: []tool.Parameter{
		{Name: "ms", Type: tool.TypeNumber, Required: true},
		{Name: "label", Type: tool.TypeString},
	},
}

func sleepTool(ctx context.Context, input json.RawMessage, _ *tool.Context) (*tool.Result, error) {
	var in struct {
		MS    float64 `json:"ms"`
		Label string  `json:"label"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	select {
	case <-time.After(time.Duration(in.MS) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &tool.Result{Title: in.Label, Output: in.Label}, nil
}

var blockDefinition = tool.Definition{
	Name:        "block",
	Description: "Blocks until the test releases it.",
	ReadOnly:    true,
}
