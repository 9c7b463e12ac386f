package commands

import (
	"context"
	"fmt"

	"github.com/opencode-ai/agentcore/internal/agent"
	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/mcp"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// runtime holds the wired components shared by run and serve.
type runtime struct {
	config    *types.Config
	store     storage.Store
	providers *provider.Registry
	tools     *tool.Registry
	perms     *permission.Engine
	agents    *agent.Registry
	bus       *event.Bus
	mcp       *mcp.Client
	sessions  *session.Service
}

// bootstrap loads configuration for workDir and wires the store, providers,
// tools, permission engine and session service. approver may be nil, in
// which case every ASK decision is denied.
func bootstrap(ctx context.Context, workDir string, approver permission.Approver) (*runtime, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	engine, path := paths.StoreLocation(appConfig)
	store, err := storage.Open(engine, path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", engine, err)
	}
	logging.Debug().Str("engine", engine).Str("path", path).Msg("store opened")

	providers, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	tools := tool.NewRegistry()
	if err := tool.RegisterBuiltins(tools); err != nil {
		store.Close()
		return nil, err
	}
	mcpClient := mcp.Connect(ctx, appConfig, Version)
	if err := mcp.RegisterTools(mcpClient, tools); err != nil {
		mcpClient.Close()
		store.Close()
		return nil, err
	}
	tools.Seal()

	bus := event.NewBus()
	executor := tool.NewExecutor(tools,
		tool.WithTimeouts(config.ToolTimeouts(appConfig)),
		tool.WithBus(bus),
	)

	opts := []permission.Option{permission.WithApprovalTimeout(appConfig.ApprovalTimeout.Std())}
	if approver != nil {
		opts = append(opts, permission.WithApprover(approver))
	}
	perms := permission.NewEngine(appConfig.Permission, opts...)

	agents := agent.NewRegistry()
	agents.LoadFromConfig(appConfig)

	proc := session.NewProcessor(store, providers, executor, perms,
		session.WithAgents(agents),
		session.WithBus(bus),
		session.WithMaxSteps(appConfig.MaxSteps),
	)

	return &runtime{
		config:    appConfig,
		store:     store,
		providers: providers,
		tools:     tools,
		perms:     perms,
		agents:    agents,
		bus:       bus,
		mcp:       mcpClient,
		sessions:  session.NewService(store, proc),
	}, nil
}

// Close releases the event bus, MCP sessions and the store.
func (rt *runtime) Close() {
	rt.bus.Close()
	if err := rt.mcp.Close(); err != nil {
		logging.Warn().Err(err).Msg("close mcp servers")
	}
	if err := rt.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("close store")
	}
}

// openStore opens only the store, for commands that never run the loop.
func openStore(workDir string) (storage.Store, *types.Config, error) {
	paths := config.GetPaths()
	appConfig, err := config.Load(workDir)
	if err != nil {
		return nil, nil, err
	}
	engine, path := paths.StoreLocation(appConfig)
	store, err := storage.Open(engine, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", engine, err)
	}
	return store, appConfig, nil
}
