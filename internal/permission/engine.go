package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opencode-ai/agentcore/internal/id"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// DefaultApprovalTimeout bounds how long Authorize waits for an approver.
const DefaultApprovalTimeout = 5 * time.Minute

// Engine evaluates tool actions against session-remembered rules and
// configuration rules, and resolves ASK verdicts through an Approver.
//
// Session rules are written only by Remember, SetSessionRules and the
// approval path; every Check reads them.
type Engine struct {
	mu      sync.RWMutex
	config  []types.PermissionRule
	session map[string][]types.PermissionRule
	asks    map[string]*semaphore.Weighted

	approver Approver
	timeout  time.Duration
	doom     *DoomLoopDetector
}

// Option configures an Engine.
type Option func(*Engine)

// WithApprover sets the approver consulted on ASK.
func WithApprover(a Approver) Option {
	return func(e *Engine) { e.approver = a }
}

// WithApprovalTimeout sets how long to wait for the approver. Zero keeps the default.
func WithApprovalTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithDoomLoopDetector replaces the repeated-call detector. nil disables it.
func WithDoomLoopDetector(d *DoomLoopDetector) Option {
	return func(e *Engine) { e.doom = d }
}

// NewEngine creates an engine with the given configuration rules.
func NewEngine(rules []types.PermissionRule, opts ...Option) *Engine {
	e := &Engine{
		session: make(map[string][]types.PermissionRule),
		asks:    make(map[string]*semaphore.Weighted),
		timeout: DefaultApprovalTimeout,
		doom:    NewDoomLoopDetector(),
	}
	e.SetConfigRules(rules)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetApprover replaces the approver.
func (e *Engine) SetApprover(a Approver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approver = a
}

// SetConfigRules replaces the configuration rules, e.g. after a config reload.
func (e *Engine) SetConfigRules(rules []types.PermissionRule) {
	cp := make([]types.PermissionRule, len(rules))
	for i, r := range rules {
		r.Scope = types.ScopeConfig
		cp[i] = r
	}
	e.mu.Lock()
	e.config = cp
	e.mu.Unlock()
}

// ConfigRules returns a copy of the configuration rules.
func (e *Engine) ConfigRules() []types.PermissionRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.PermissionRule(nil), e.config...)
}

// Remember records a session-scoped rule. It shadows configuration rules for
// the rest of the session.
func (e *Engine) Remember(sessionID string, rule types.PermissionRule) error {
	if !rule.Action.Valid() {
		return fmt.Errorf("invalid permission action %q", rule.Action)
	}
	if rule.Tool == "" {
		rule.Tool = "*"
	}
	rule.Scope = types.ScopeSession

	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.session[sessionID]
	next := make([]types.PermissionRule, len(prev), len(prev)+1)
	copy(next, prev)
	e.session[sessionID] = append(next, rule)
	return nil
}

// SetSessionRules replaces every remembered rule of a session.
func (e *Engine) SetSessionRules(sessionID string, rules []types.PermissionRule) error {
	cp := make([]types.PermissionRule, 0, len(rules))
	for _, r := range rules {
		if !r.Action.Valid() {
			return fmt.Errorf("invalid permission action %q", r.Action)
		}
		r.Scope = types.ScopeSession
		cp = append(cp, r)
	}
	e.mu.Lock()
	e.session[sessionID] = cp
	e.mu.Unlock()
	return nil
}

// SessionRules returns a copy of the session's remembered rules.
func (e *Engine) SessionRules(sessionID string) []types.PermissionRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.PermissionRule(nil), e.session[sessionID]...)
}

// Forget drops all session state.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	delete(e.session, sessionID)
	delete(e.asks, sessionID)
	e.mu.Unlock()
	if e.doom != nil {
		e.doom.Clear(sessionID)
	}
}

// Check returns the verdict for tool performing a in the session. Compound
// actions (several commands or paths) get the strictest verdict of their parts.
func (e *Engine) Check(sessionID, tool string, a Action) Level {
	return e.CheckWith(sessionID, tool, a, nil)
}

// CheckWith is Check with extra rules, such as an agent profile's, evaluated
// alongside the configuration rules. Configuration rules win ties.
func (e *Engine) CheckWith(sessionID, tool string, a Action, extra []types.PermissionRule) Level {
	e.mu.RLock()
	sess := e.session[sessionID]
	cfg := e.config
	e.mu.RUnlock()
	if len(extra) > 0 {
		cfg = append(append([]types.PermissionRule(nil), extra...), cfg...)
	}

	level := Allow
	for _, t := range targets(a) {
		l := checkTarget(sess, cfg, tool, t, a)
		if strictness(l) > strictness(level) {
			level = l
		}
	}
	return level
}

func checkTarget(sess, cfg []types.PermissionRule, tool string, t target, a Action) Level {
	if r, ok := bestRule(sess, tool, t); ok {
		return r.Action
	}
	if r, ok := bestRule(cfg, tool, t); ok {
		return r.Action
	}
	if a.ReadOnly {
		return Allow
	}
	return Ask
}

// bestRule returns the most specific matching rule. Later rules win ties.
func bestRule(rules []types.PermissionRule, tool string, t target) (types.PermissionRule, bool) {
	var (
		best     types.PermissionRule
		bestSpec specificity
		found    bool
	)
	for _, r := range rules {
		if !ruleMatches(r, tool, t) {
			continue
		}
		spec := ruleSpecificity(r)
		if !found || !bestSpec.moreSpecific(spec) {
			best, bestSpec, found = r, spec, true
		}
	}
	return best, found
}

// Authorize checks req and, on ASK, asks the approver. It returns nil when
// the call may run, a *DeniedError when it may not, and an error wrapping
// types.ErrAborted when ctx ends first.
func (e *Engine) Authorize(ctx context.Context, req Request) error {
	if req.Patterns == nil {
		req.Patterns = Patterns(req.Action)
	}

	level := e.CheckWith(req.SessionID, req.Tool, req.Action, req.Rules)
	repeated := false
	if e.doom != nil && e.doom.Check(req.SessionID, req.Tool, req.Input) && level == Allow {
		level = Ask
		repeated = true
	}

	logging.Debug().
		Str("session", req.SessionID).
		Str("tool", req.Tool).
		Strs("patterns", req.Patterns).
		Str("level", string(level)).
		Bool("repeated", repeated).
		Msg("permission check")

	switch level {
	case Allow:
		return nil
	case Deny:
		return e.denied(req, "denied by rule", false)
	}
	return e.ask(ctx, req, repeated)
}

func (e *Engine) ask(ctx context.Context, req Request, repeated bool) error {
	sem := e.askLock(req.SessionID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", types.ErrAborted, err)
	}
	defer sem.Release(1)

	// An earlier prompt in this session may have remembered a matching rule.
	if !repeated {
		switch e.CheckWith(req.SessionID, req.Tool, req.Action, req.Rules) {
		case Allow:
			return nil
		case Deny:
			return e.denied(req, "denied by rule", false)
		}
	}

	e.mu.RLock()
	approver := e.approver
	e.mu.RUnlock()
	if approver == nil {
		return e.denied(req, "no approver available", false)
	}

	if req.ID == "" {
		req.ID = id.New(id.Permission)
	}
	if req.Title == "" {
		req.Title = title(req, repeated)
	}

	actx, cancel := context.WithTimeout(ctx, e.timeout)
	resp, err := approver.RequestApproval(actx, req)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", types.ErrAborted, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return e.denied(req, fmt.Sprintf("approval timed out after %s", e.timeout), true)
		}
		return e.denied(req, "approver unavailable: "+err.Error(), false)
	}

	logging.Info().
		Str("session", req.SessionID).
		Str("tool", req.Tool).
		Str("response", string(resp)).
		Msg("permission resolved")

	switch resp {
	case ResponseOnce:
		return nil
	case ResponseAlways:
		for _, rule := range alwaysRules(req) {
			if err := e.Remember(req.SessionID, rule); err != nil {
				return err
			}
		}
		return nil
	default:
		return e.denied(req, "rejected by user", false)
	}
}

func (e *Engine) askLock(sessionID string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.asks[sessionID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		e.asks[sessionID] = sem
	}
	return sem
}

func (e *Engine) denied(req Request, reason string, timeout bool) *DeniedError {
	return &DeniedError{
		SessionID: req.SessionID,
		Tool:      req.Tool,
		CallID:    req.CallID,
		Pattern:   strings.Join(req.Patterns, ", "),
		Reason:    reason,
		Timeout:   timeout,
	}
}

func alwaysRules(req Request) []types.PermissionRule {
	if len(req.Patterns) == 0 {
		return []types.PermissionRule{{Tool: req.Tool, Action: Allow}}
	}
	rules := make([]types.PermissionRule, 0, len(req.Patterns))
	for _, p := range req.Patterns {
		rules = append(rules, types.PermissionRule{Tool: req.Tool, Pattern: p, Action: Allow})
	}
	return rules
}

func title(req Request, repeated bool) string {
	var what string
	switch {
	case req.Action.Command != "":
		what = req.Action.Command
	case len(req.Action.Paths) > 0:
		what = strings.Join(req.Action.Paths, ", ")
	default:
		what = req.Action.Pattern
	}
	t := "Allow " + req.Tool
	if what != "" {
		t += ": " + what
	}
	if repeated {
		t += fmt.Sprintf(" (repeated %d times)", DoomLoopThreshold)
	}
	return t
}

// Patterns returns the patterns an "always" answer remembers for a.
func Patterns(a Action) []string {
	var out []string
	if a.Command != "" {
		cmds, err := ParseBashCommand(a.Command)
		if err != nil || len(cmds) == 0 {
			out = append(out, strings.TrimSpace(a.Command))
		} else {
			out = append(out, BuildPatterns(cmds)...)
		}
	}
	for _, p := range a.Paths {
		out = append(out, ResolvePath(p, a.WorkDir))
	}
	if a.Pattern != "" {
		out = append(out, a.Pattern)
	}
	return out
}

func targets(a Action) []target {
	var out []target
	if a.Command != "" {
		cmds, err := ParseBashCommand(a.Command)
		if err != nil || len(cmds) == 0 {
			out = append(out, target{kind: targetCommand, value: strings.TrimSpace(a.Command), workDir: a.WorkDir})
		}
		for _, cmd := range cmds {
			out = append(out, target{kind: targetCommand, value: cmd.String(), workDir: a.WorkDir})
		}
	}
	for _, p := range a.Paths {
		out = append(out, target{kind: targetPath, value: ResolvePath(p, a.WorkDir), workDir: a.WorkDir})
	}
	if a.Pattern != "" {
		out = append(out, target{kind: targetPattern, value: a.Pattern, workDir: a.WorkDir})
	}
	if len(out) == 0 {
		out = append(out, target{kind: targetNone, workDir: a.WorkDir})
	}
	return out
}
