package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/pkg/types"
)

const (
	// DefaultTimeout bounds a single tool call when no per-tool timeout is set.
	DefaultTimeout = 2 * time.Minute
	// DefaultGracePeriod is how long a cancelled handler may take to return.
	DefaultGracePeriod = 2 * time.Second
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID        string
	Tool      string
	Input     json.RawMessage
	SessionID string
	MessageID string
	WorkDir   string
}

// Outcome is the terminal result of a call. Status is completed, error or
// aborted; Err is set for the last two.
type Outcome struct {
	CallID   string
	Tool     string
	Status   types.ToolStatus
	Result   *Result
	Err      error
	Duration time.Duration
}

// Output is the text the model sees for this outcome.
func (o Outcome) Output() string {
	if o.Result != nil {
		return o.Result.Output
	}
	return ""
}

// Executor runs validated tool calls with timeouts and cancellation.
type Executor struct {
	registry *Registry
	timeouts map[string]time.Duration
	grace    time.Duration
	bus      *event.Bus
	limit    int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeouts sets per-tool timeouts. The "*" key sets the default.
func WithTimeouts(timeouts map[string]time.Duration) ExecutorOption {
	return func(e *Executor) {
		for k, v := range timeouts {
			if v > 0 {
				e.timeouts[k] = v
			}
		}
	}
}

// WithGracePeriod sets how long a cancelled handler may take to return
// before its outcome is decided without it.
func WithGracePeriod(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.grace = d }
}

// WithBus sets the bus that tool output chunks are published on.
func WithBus(bus *event.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

// WithConcurrency caps how many calls ExecuteAll runs at once. Zero means no cap.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) { e.limit = n }
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: reg,
		timeouts: map[string]time.Duration{"*": DefaultTimeout},
		grace:    DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry { return e.registry }

// Timeout returns the timeout applied to the named tool.
func (e *Executor) Timeout(tool string) time.Duration {
	if d, ok := e.timeouts[tool]; ok {
		return d
	}
	return e.timeouts["*"]
}

type handlerResult struct {
	res *Result
	err error
}

// Execute runs one call to a terminal outcome. It never panics and never
// returns before the handler has returned or the grace period has expired.
func (e *Executor) Execute(ctx context.Context, call Call) Outcome {
	start := time.Now()
	out := e.execute(ctx, call)
	out.CallID = call.ID
	out.Tool = call.Tool
	out.Duration = time.Since(start)

	ev := logging.Debug()
	if out.Status != types.ToolCompleted {
		ev = logging.Warn().Err(out.Err)
	}
	ev.Str("sessionID", call.SessionID).
		Str("callID", call.ID).
		Str("tool", call.Tool).
		Str("status", string(out.Status)).
		Dur("duration", out.Duration).
		Msg("tool call finished")
	return out
}

func (e *Executor) execute(ctx context.Context, call Call) Outcome {
	entry, ok := e.registry.Get(call.Tool)
	if !ok {
		return Outcome{Status: types.ToolError, Err: &ValidationError{Tool: call.Tool, Reason: "unknown tool"}}
	}
	if _, err := ValidateArgs(entry.Definition, call.Input); err != nil {
		return Outcome{Status: types.ToolError, Err: err}
	}
	if ctx.Err() != nil {
		return Outcome{Status: types.ToolAborted, Err: &AbortedError{Tool: call.Tool}}
	}

	timeout := e.Timeout(call.Tool)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tc := &Context{
		SessionID: call.SessionID,
		MessageID: call.MessageID,
		CallID:    call.ID,
		Tool:      call.Tool,
		WorkDir:   call.WorkDir,
		Sink:      e.sink(call),
	}

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error().
					Str("tool", call.Tool).
					Str("callID", call.ID).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("tool handler panicked")
				done <- handlerResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := entry.Handler.Execute(runCtx, call.Input, tc)
		done <- handlerResult{res: res, err: err}
	}()

	var (
		hr       handlerResult
		returned bool
	)
	select {
	case hr = <-done:
		returned = true
	case <-runCtx.Done():
		select {
		case hr = <-done:
			returned = true
		case <-time.After(e.grace):
		}
	}

	if ctx.Err() != nil && (!returned || hr.err != nil) {
		return Outcome{Status: types.ToolAborted, Err: &AbortedError{Tool: call.Tool}, Result: hr.res}
	}
	if runCtx.Err() == context.DeadlineExceeded && (!returned || hr.err != nil) {
		return Outcome{
			Status: types.ToolError,
			Err:    &ExecutionError{Tool: call.Tool, Cause: fmt.Errorf("timed out after %s", timeout)},
			Result: hr.res,
		}
	}
	if hr.err != nil {
		return Outcome{Status: types.ToolError, Err: &ExecutionError{Tool: call.Tool, Cause: hr.err}, Result: hr.res}
	}
	if hr.res == nil {
		hr.res = &Result{}
	}
	return Outcome{Status: types.ToolCompleted, Result: hr.res}
}

// ExecuteAll runs calls concurrently and returns outcomes in issue order.
// Calls that share a resource key run one after another, in issue order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call) []Outcome {
	outcomes := make([]Outcome, len(calls))
	if len(calls) == 0 {
		return outcomes
	}

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for _, idxs := range e.conflictGroups(calls) {
		g.Go(func() error {
			for _, i := range idxs {
				outcomes[i] = e.Execute(ctx, calls[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// conflictGroups partitions call indexes so that calls sharing a key, directly
// or through another call, land in the same group. Groups and their members
// are in issue order.
func (e *Executor) conflictGroups(calls []Call) [][]int {
	parent := make([]int, len(calls))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	owner := make(map[string]int)
	for i, c := range calls {
		for _, key := range e.ResourceKeys(c) {
			j, ok := owner[key]
			if !ok {
				owner[key] = i
				continue
			}
			a, b := find(i), find(j)
			if a != b {
				parent[max(a, b)] = min(a, b)
			}
		}
	}

	index := make(map[int]int)
	var groups [][]int
	for i := range calls {
		root := find(i)
		g, ok := index[root]
		if !ok {
			g = len(groups)
			index[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// ResourceKeys returns the conflict keys of a call. A call without keys can
// run alongside anything.
func (e *Executor) ResourceKeys(call Call) []string {
	entry, ok := e.registry.Get(call.Tool)
	if !ok {
		return nil
	}
	if k, ok := entry.Handler.(Keyed); ok {
		return k.ResourceKeys(call.Input, call.WorkDir)
	}
	return nil
}

func (e *Executor) sink(call Call) Sink {
	bus := e.bus
	if bus == nil {
		bus = event.Default()
	}
	return &busSink{bus: bus, call: call}
}

// busSink publishes tool output chunks as tool.output events, in order.
type busSink struct {
	bus  *event.Bus
	call Call
}

func (s *busSink) Write(chunk string) {
	s.bus.PublishSync(event.Event{
		Type: event.ToolOutput,
		Data: event.ToolOutputData{
			SessionID: s.call.SessionID,
			MessageID: s.call.MessageID,
			CallID:    s.call.ID,
			Tool:      s.call.Tool,
			Chunk:     chunk,
		},
	})
}
