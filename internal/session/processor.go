package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentcore/internal/agent"
	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// LoopState is the phase a session's run is in.
type LoopState string

const (
	StateIdle      LoopState = "idle"
	StateStreaming LoopState = "streaming"
	StateResolving LoopState = "resolving"
	StateFailed    LoopState = "failed"
)

// FileInput is a file attached to a user message.
type FileInput struct {
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// RunInput is one user turn.
type RunInput struct {
	SessionID string      `json:"sessionID"`
	Text      string      `json:"text"`
	Files     []FileInput `json:"files,omitempty"`
	// Agent names the profile; empty selects the default.
	Agent string `json:"agent,omitempty"`
	// Model is a "provider/model" reference overriding the profile and session.
	Model string `json:"model,omitempty"`
}

// Processor runs the agent loop: it streams model output into an assistant
// message, resolves the tool calls the model asks for and feeds the results
// back until the model answers without calling tools.
type Processor struct {
	store     storage.Store
	providers *provider.Registry
	executor  *tool.Executor
	perms     *permission.Engine
	agents    *agent.Registry
	bus       *event.Bus
	maxSteps  int
	backoff   func(ctx context.Context) backoff.BackOff
	log       zerolog.Logger

	mu     sync.Mutex
	runs   map[string]*run
	states map[string]LoopState
}

// run is the bookkeeping of one active Run.
type run struct {
	sessionID string
	cancel    context.CancelFunc
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithAgents sets the profile registry. The built-in profiles are used otherwise.
func WithAgents(r *agent.Registry) ProcessorOption {
	return func(p *Processor) { p.agents = r }
}

// WithBus sets the bus loop, message and part events are published on.
func WithBus(bus *event.Bus) ProcessorOption {
	return func(p *Processor) { p.bus = bus }
}

// WithMaxSteps sets the iteration cap for profiles without their own.
func WithMaxSteps(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxSteps = n
		}
	}
}

// WithRetryBackoff replaces the policy used to retry retryable provider errors.
func WithRetryBackoff(fn func(ctx context.Context) backoff.BackOff) ProcessorOption {
	return func(p *Processor) { p.backoff = fn }
}

// NewProcessor creates a processor. Tools are looked up in the executor's registry.
func NewProcessor(
	store storage.Store,
	providers *provider.Registry,
	executor *tool.Executor,
	perms *permission.Engine,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		store:     store,
		providers: providers,
		executor:  executor,
		perms:     perms,
		maxSteps:  DefaultMaxSteps,
		backoff:   newRetryBackoff,
		log:       logging.ForComponent("session"),
		runs:      make(map[string]*run),
		states:    make(map[string]LoopState),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.agents == nil {
		p.agents = agent.NewRegistry()
	}
	if p.bus == nil {
		p.bus = event.Default()
	}
	return p
}

// Agents returns the profile registry.
func (p *Processor) Agents() *agent.Registry { return p.agents }

// Run appends a user turn to the session and drives the loop until the model
// answers, the step limit is hit, the provider fails or the run is aborted.
//
// The returned message is the assistant message in its final state. Next to
// it the error is an *OutputLimitError, a provider error, an error wrapping
// types.ErrAborted or nil on completion.
func (p *Processor) Run(ctx context.Context, in RunInput) (*types.MessageWithParts, error) {
	if in.Text == "" && len(in.Files) == 0 {
		return nil, ErrEmptyMessage
	}
	runCtx, done, err := p.begin(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	defer done()

	sess, err := p.store.GetSession(ctx, in.SessionID)
	if err != nil {
		p.setState(in.SessionID, "", StateIdle, 0)
		return nil, fmt.Errorf("load session: %w", err)
	}
	ag, err := p.agents.Get(in.Agent)
	if err != nil {
		p.setState(in.SessionID, "", StateIdle, 0)
		return nil, err
	}
	prov, model, err := p.resolveModel(in, ag, sess)
	if err != nil {
		p.setState(in.SessionID, "", StateIdle, 0)
		return nil, err
	}
	if len(sess.Permission) > 0 && len(p.perms.SessionRules(sess.ID)) == 0 {
		if err := p.perms.SetSessionRules(sess.ID, sess.Permission); err != nil {
			p.log.Warn().Err(err).Str("sessionID", sess.ID).Msg("ignoring stored session rules")
		}
	}

	l := &loop{
		p:       p,
		ctx:     runCtx,
		persist: context.WithoutCancel(runCtx),
		session: sess,
		agent:   ag,
		prov:    prov,
		model:   model,
	}
	return l.run(in)
}

// begin registers a run for sessionID. The returned function releases it.
func (p *Processor) begin(ctx context.Context, sessionID string) (context.Context, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.runs[sessionID]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrBusy, sessionID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{sessionID: sessionID, cancel: cancel}
	p.runs[sessionID] = r

	return runCtx, func() {
		cancel()
		p.mu.Lock()
		delete(p.runs, sessionID)
		p.mu.Unlock()
	}, nil
}

func (p *Processor) resolveModel(in RunInput, ag *agent.Agent, sess *types.Session) (provider.Provider, *types.Model, error) {
	ref := in.Model
	if ref == "" {
		ref = ag.Model
	}
	if ref == "" && sess.Model != nil {
		ref = sess.Model.String()
	}
	prov, model, err := p.providers.Resolve(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve model: %w", err)
	}
	return prov, model, nil
}

// Abort cancels the session's active run.
func (p *Processor) Abort(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.runs[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, sessionID)
	}
	r.cancel()
	return nil
}

// IsRunning reports whether the session has an active run.
func (p *Processor) IsRunning(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.runs[sessionID]
	return ok
}

// State returns the session's loop state. Sessions that never ran are idle.
func (p *Processor) State(sessionID string) LoopState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[sessionID]; ok {
		return s
	}
	return StateIdle
}

func (p *Processor) setState(sessionID, messageID string, state LoopState, step int) {
	p.mu.Lock()
	prev, ok := p.states[sessionID]
	if !ok {
		prev = StateIdle
	}
	p.states[sessionID] = state
	p.mu.Unlock()

	if prev == state && state == StateIdle {
		return
	}
	p.log.Debug().
		Str("sessionID", sessionID).
		Str("messageID", messageID).
		Str("state", string(state)).
		Int("step", step).
		Msg("loop state")
	p.bus.PublishSync(event.Event{
		Type: event.LoopState,
		Data: event.LoopStateData{
			SessionID: sessionID,
			MessageID: messageID,
			State:     string(state),
			Step:      step,
		},
	})
}

// forget drops the loop state kept for a deleted session.
func (p *Processor) forget(sessionID string) {
	p.mu.Lock()
	delete(p.states, sessionID)
	p.mu.Unlock()
}
