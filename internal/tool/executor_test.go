package tool

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// keyedHandler sleeps for the requested time and records start order.
type keyedHandler struct {
	mu      sync.Mutex
	started []string
	active  atomic.Int32
	peak    atomic.Int32
}

type keyedInput struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Sleep int    `json:"sleep"`
}

func (h *keyedHandler) ResourceKeys(input json.RawMessage, workDir string) []string {
	var in keyedInput
	_ = json.Unmarshal(input, &in)
	if in.Key == "" {
		return nil
	}
	return []string{in.Key}
}

func (h *keyedHandler) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var in keyedInput
	_ = json.Unmarshal(input, &in)

	h.mu.Lock()
	h.started = append(h.started, in.ID)
	h.mu.Unlock()

	n := h.active.Add(1)
	defer h.active.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-time.After(time.Duration(in.Sleep) * time.Millisecond):
		return &Result{Output: in.ID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var keyedDef = Definition{
	Name: "keyed",
	Parameters: []Parameter{
		{Name: "id", Type: TypeString, Required: true},
		{Name: "key", Type: TypeString},
		{Name: "sleep", Type: TypeInteger},
	},
}

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *Registry) {
	t.Helper()
	reg := NewRegistry()
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	return NewExecutor(reg, append([]ExecutorOption{WithBus(bus)}, opts...)...), reg
}

func call(id, tool string, input string) Call {
	return Call{ID: id, Tool: tool, Input: json.RawMessage(input), SessionID: "ses_1", MessageID: "msg_1"}
}

func TestExecutor_Completed(t *testing.T) {
	exec, reg := newTestExecutor(t)
	require.NoError(t, reg.Register(echoDef, echoHandler()))

	out := exec.Execute(context.Background(), call("c1", "echo", `{"message":"hello"}`))
	assert.Equal(t, types.ToolCompleted, out.Status)
	assert.NoError(t, out.Err)
	assert.Equal(t, "hello", out.Output())
	assert.Equal(t, "c1", out.CallID)
}

func TestExecutor_ValidationAndUnknown(t *testing.T) {
	exec, reg := newTestExecutor(t)
	var ran atomic.Bool
	require.NoError(t, reg.Register(echoDef, HandlerFunc(func(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
		ran.Store(true)
		return &Result{}, nil
	})))

	out := exec.Execute(context.Background(), call("c1", "echo", `{"message":1}`))
	assert.Equal(t, types.ToolError, out.Status)
	var ve *ValidationError
	require.ErrorAs(t, out.Err, &ve)
	assert.Equal(t, "message", ve.Param)
	assert.False(t, ran.Load(), "handler must not run on invalid input")

	out = exec.Execute(context.Background(), call("c2", "nope", `{}`))
	assert.Equal(t, types.ToolError, out.Status)
	require.ErrorAs(t, out.Err, &ve)
}

func TestExecutor_HandlerError(t *testing.T) {
	exec, reg := newTestExecutor(t)
	boom := errors.New("boom")
	require.NoError(t, reg.Register(Definition{Name: "fail"}, HandlerFunc(func(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
		return nil, boom
	})))

	out := exec.Execute(context.Background(), call("c1", "fail", `{}`))
	assert.Equal(t, types.ToolError, out.Status)
	var ee *ExecutionError
	require.ErrorAs(t, out.Err, &ee)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, types.ErrNameExecution, types.NewMessageError(out.Err).Name)
}

func TestExecutor_Panic(t *testing.T) {
	exec, reg := newTestExecutor(t)
	require.NoError(t, reg.Register(Definition{Name: "panic"}, HandlerFunc(func(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
		panic("kaboom")
	})))

	out := exec.Execute(context.Background(), call("c1", "panic", `{}`))
	assert.Equal(t, types.ToolError, out.Status)
	var ee *ExecutionError
	require.ErrorAs(t, out.Err, &ee)
	assert.Contains(t, out.Err.Error(), "kaboom")
}

func TestExecutor_Timeout(t *testing.T) {
	exec, reg := newTestExecutor(t, WithTimeouts(map[string]time.Duration{"keyed": 50 * time.Millisecond}))
	require.NoError(t, reg.Register(keyedDef, &keyedHandler{}))

	assert.Equal(t, 50*time.Millisecond, exec.Timeout("keyed"))
	assert.Equal(t, DefaultTimeout, exec.Timeout("other"))

	out := exec.Execute(context.Background(), call("c1", "keyed", `{"id":"a","sleep":5000}`))
	assert.Equal(t, types.ToolError, out.Status)
	var ee *ExecutionError
	require.ErrorAs(t, out.Err, &ee)
	assert.Contains(t, out.Err.Error(), "timed out after 50ms")
}

func TestExecutor_Abort(t *testing.T) {
	exec, reg := newTestExecutor(t)
	require.NoError(t, reg.Register(keyedDef, &keyedHandler{}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	out := exec.Execute(ctx, call("c1", "keyed", `{"id":"a","sleep":5000}`))
	assert.Equal(t, types.ToolAborted, out.Status)
	assert.ErrorIs(t, out.Err, types.ErrAborted)
	assert.Equal(t, types.ErrNameAborted, types.NewMessageError(out.Err).Name)

	out = exec.Execute(ctx, call("c2", "keyed", `{"id":"b"}`))
	assert.Equal(t, types.ToolAborted, out.Status, "already-cancelled context never starts the handler")
}

func TestExecutor_GracePeriod(t *testing.T) {
	exec, reg := newTestExecutor(t, WithGracePeriod(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, reg.Register(Definition{Name: "stuck"}, HandlerFunc(func(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
		<-release
		return &Result{}, nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	out := exec.Execute(ctx, call("c1", "stuck", `{}`))
	assert.Equal(t, types.ToolAborted, out.Status)
	assert.Less(t, time.Since(start), time.Second, "executor must not wait for a handler that ignores cancellation")
}

func TestExecuteAll_OrderAndParallelism(t *testing.T) {
	exec, reg := newTestExecutor(t)
	h := &keyedHandler{}
	require.NoError(t, reg.Register(keyedDef, h))

	calls := []Call{
		call("c1", "keyed", `{"id":"slow","sleep":150}`),
		call("c2", "keyed", `{"id":"mid","sleep":75}`),
		call("c3", "keyed", `{"id":"fast","sleep":50}`),
	}
	start := time.Now()
	outs := exec.ExecuteAll(context.Background(), calls)
	elapsed := time.Since(start)

	require.Len(t, outs, 3)
	for i, want := range []string{"slow", "mid", "fast"} {
		assert.Equal(t, calls[i].ID, outs[i].CallID)
		assert.Equal(t, want, outs[i].Output())
	}
	assert.Less(t, elapsed, 225*time.Millisecond, "independent calls run concurrently")
	assert.Equal(t, int32(3), h.peak.Load())
}

func TestExecuteAll_SameKeySerialized(t *testing.T) {
	exec, reg := newTestExecutor(t)
	h := &keyedHandler{}
	require.NoError(t, reg.Register(keyedDef, h))

	calls := []Call{
		call("c1", "keyed", `{"id":"first","key":"file:/a","sleep":60}`),
		call("c2", "keyed", `{"id":"second","key":"file:/a","sleep":1}`),
		call("c3", "keyed", `{"id":"third","key":"file:/a","sleep":1}`),
	}
	outs := exec.ExecuteAll(context.Background(), calls)
	for _, o := range outs {
		assert.Equal(t, types.ToolCompleted, o.Status)
	}
	assert.Equal(t, []string{"first", "second", "third"}, h.started)
	assert.Equal(t, int32(1), h.peak.Load())
}

func TestExecuteAll_WritesToSameFile(t *testing.T) {
	dir := t.TempDir()
	exec, reg := newTestExecutor(t)
	require.NoError(t, RegisterBuiltins(reg))

	calls := []Call{
		{ID: "c1", Tool: "write", Input: json.RawMessage(`{"path":"out.txt","content":"one"}`), WorkDir: dir},
		{ID: "c2", Tool: "edit", Input: json.RawMessage(`{"path":"out.txt","oldString":"one","newString":"two"}`), WorkDir: dir},
		{ID: "c3", Tool: "read", Input: json.RawMessage(`{"path":"out.txt"}`), WorkDir: dir},
	}
	groups := exec.conflictGroups(calls)
	assert.Equal(t, [][]int{{0, 1}, {2}}, groups)

	outs := exec.ExecuteAll(context.Background(), calls[:2])
	require.Equal(t, types.ToolCompleted, outs[0].Status, "%v", outs[0].Err)
	require.Equal(t, types.ToolCompleted, outs[1].Status, "%v", outs[1].Err)
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestConflictGroups_Transitive(t *testing.T) {
	exec, reg := newTestExecutor(t)
	require.NoError(t, reg.Register(Definition{Name: "multi", Parameters: []Parameter{{Name: "keys", Type: TypeArray, Items: TypeString}}}, multiKey{}))

	calls := []Call{
		call("c1", "multi", `{"keys":["a"]}`),
		call("c2", "multi", `{"keys":["b"]}`),
		call("c3", "multi", `{"keys":["a","b"]}`),
		call("c4", "multi", `{"keys":[]}`),
	}
	assert.Equal(t, [][]int{{0, 1, 2}, {3}}, exec.conflictGroups(calls))
}

type multiKey struct{}

func (multiKey) ResourceKeys(input json.RawMessage, workDir string) []string {
	var in struct {
		Keys []string `json:"keys"`
	}
	_ = json.Unmarshal(input, &in)
	return in.Keys
}

func (multiKey) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	return &Result{}, nil
}

func TestExecutor_SinkPublishesToolOutput(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []event.ToolOutputData
	bus.Subscribe(event.ToolOutput, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Data.(event.ToolOutputData))
	})

	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{Name: "chatty"}, HandlerFunc(func(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
		tc.Stream("part 1")
		tc.Stream("")
		tc.Stream("part 2")
		return &Result{Output: "done"}, nil
	})))
	exec := NewExecutor(reg, WithBus(bus))

	out := exec.Execute(context.Background(), call("c1", "chatty", `{}`))
	require.Equal(t, types.ToolCompleted, out.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "part 1", got[0].Chunk)
	assert.Equal(t, "c1", got[0].CallID)
	assert.Equal(t, "ses_1", got[0].SessionID)
	assert.Equal(t, "chatty", got[1].Tool)
}
