package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/agentcore/internal/agent"
	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/id"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/pkg/types"
)

const (
	// DefaultMaxSteps is the iteration cap when neither profile nor configuration set one.
	DefaultMaxSteps = 50
	// MaxRetries is the maximum number of retries for retryable provider errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
)

// newRetryBackoff creates an exponential backoff with jitter for provider retries.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// loop is one Run in progress. ctx ends on abort; writes go through persist so
// that an aborted run can still be finalized.
type loop struct {
	p       *Processor
	ctx     context.Context
	persist context.Context
	session *types.Session
	agent   *agent.Agent
	prov    provider.Provider
	model   *types.Model
	system  string

	msg  *types.Message
	step int
}

// pendingCall is a tool call streamed in the current step.
type pendingCall struct {
	part *types.ToolCallPart
	raw  json.RawMessage
	args map[string]any
}

// stepOutput collects what one provider attempt produced.
type stepOutput struct {
	text      *types.TextPart
	reasoning *types.ReasoningPart
	calls     []*pendingCall
	usage     types.Usage
	finish    string
	// applied is set once anything was persisted; such attempts are not retried.
	applied bool
}

func (l *loop) run(in RunInput) (*types.MessageWithParts, error) {
	user, err := l.appendUser(in)
	if err != nil {
		l.p.setState(l.session.ID, "", StateIdle, 0)
		return nil, err
	}
	if err := l.appendAssistant(user); err != nil {
		l.p.setState(l.session.ID, "", StateIdle, 0)
		return nil, err
	}
	l.system = NewSystemPrompt(l.session, l.agent, l.model).Build()

	maxSteps := l.agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = l.p.maxSteps
	}

	for step := 1; ; step++ {
		if l.ctx.Err() != nil {
			return l.aborted(nil)
		}
		if step > maxSteps {
			l.p.log.Warn().
				Str("sessionID", l.session.ID).
				Str("messageID", l.msg.ID).
				Int("limit", maxSteps).
				Msg("step limit reached")
			res, err := l.finalize(types.StatusError, &OutputLimitError{Limit: maxSteps})
			l.p.setState(l.session.ID, l.msg.ID, StateIdle, l.step)
			return res, err
		}

		l.step = step
		l.p.setState(l.session.ID, l.msg.ID, StateStreaming, step)
		calls, err := l.stream()
		if err != nil {
			if l.ctx.Err() != nil {
				return l.aborted(calls)
			}
			return l.failed(calls, err)
		}
		if len(calls) == 0 {
			var cause error
			status := types.StatusComplete
			if l.msg.Finish == provider.FinishLength {
				status, cause = types.StatusError, &OutputLimitError{Truncated: true}
			}
			res, err := l.finalize(status, cause)
			l.p.setState(l.session.ID, l.msg.ID, StateIdle, step)
			return res, err
		}

		l.p.setState(l.session.ID, l.msg.ID, StateResolving, step)
		if err := l.resolve(calls); err != nil {
			if l.ctx.Err() != nil {
				return l.aborted(nil)
			}
			return l.failed(nil, err)
		}
	}
}

func (l *loop) appendUser(in RunInput) (*types.Message, error) {
	now := time.Now().UnixMilli()
	msg := &types.Message{
		ID:        id.NewMessage(),
		SessionID: l.session.ID,
		Role:      types.RoleUser,
		Time:      types.MessageTime{Created: now},
		Agent:     l.agent.Name,
		Model:     &types.ModelRef{ProviderID: l.model.ProviderID, ModelID: l.model.ID},
	}
	if err := l.p.store.AppendMessage(l.persist, msg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	l.publishMessage(event.MessageCreated, msg)

	if in.Text != "" {
		part := &types.TextPart{PartBase: l.base(msg.ID), Text: in.Text}
		if err := l.appendPart(part); err != nil {
			return nil, err
		}
	}
	for _, f := range in.Files {
		if err := l.appendPart(l.filePart(msg.ID, f)); err != nil {
			return nil, err
		}
	}

	l.session.Time.Updated = now
	if err := l.p.store.UpdateSession(l.persist, l.session); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	l.p.bus.PublishSync(event.Event{Type: event.SessionUpdated, Data: event.SessionData{Info: l.session.Clone()}})
	return msg, nil
}

func (l *loop) filePart(messageID string, f FileInput) *types.FilePart {
	name := f.Filename
	if name == "" {
		name = filepath.Base(f.Path)
		if f.Path == "" {
			name = filepath.Base(f.URL)
		}
	}
	mt := f.Mime
	if mt == "" {
		mt = mime.TypeByExtension(filepath.Ext(name))
	}
	if mt == "" {
		mt = "application/octet-stream"
	}
	path := f.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.session.Directory, path)
	}
	return &types.FilePart{
		PartBase: l.base(messageID),
		Mime:     mt,
		Filename: name,
		URL:      f.URL,
		Path:     path,
	}
}

func (l *loop) appendAssistant(user *types.Message) error {
	l.msg = &types.Message{
		ID:         id.NewMessage(),
		SessionID:  l.session.ID,
		Role:       types.RoleAssistant,
		Time:       types.MessageTime{Created: time.Now().UnixMilli()},
		ParentID:   user.ID,
		ProviderID: l.model.ProviderID,
		ModelID:    l.model.ID,
		Status:     types.StatusInProgress,
	}
	if err := l.p.store.AppendMessage(l.persist, l.msg); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	l.publishMessage(event.MessageCreated, l.msg)
	return nil
}

// stream runs one Streaming phase: it asks the provider for the next step and
// persists its output. The calls of a failed attempt are returned with the
// error so they can be closed out.
func (l *loop) stream() ([]*pendingCall, error) {
	start := &types.StepPart{PartBase: l.base(l.msg.ID), Kind: types.StepStart, Step: l.step}
	if err := l.appendPart(start); err != nil {
		return nil, err
	}

	req, err := l.request()
	if err != nil {
		return nil, err
	}

	var out *stepOutput
	attempt := 0
	op := func() error {
		attempt++
		out = &stepOutput{}
		err := l.attempt(req, out)
		if err == nil {
			return nil
		}
		if l.ctx.Err() != nil || out.applied || !provider.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		l.p.log.Warn().
			Err(err).
			Str("sessionID", l.session.ID).
			Str("messageID", l.msg.ID).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying provider stream")
	}
	if err := backoff.RetryNotify(op, l.p.backoff(l.ctx), notify); err != nil {
		if l.ctx.Err() != nil {
			return out.calls, l.ctx.Err()
		}
		return out.calls, err
	}

	if err := l.closeStreamParts(out); err != nil {
		return out.calls, err
	}

	finish := out.finish
	if finish == "" {
		finish = provider.FinishStop
		if len(out.calls) > 0 {
			finish = provider.FinishToolUse
		}
	}
	end := &types.StepPart{
		PartBase: l.base(l.msg.ID),
		Kind:     types.StepFinish,
		Step:     l.step,
		Usage:    out.usage,
		Finish:   finish,
	}
	if err := l.appendPart(end); err != nil {
		return out.calls, err
	}

	l.msg.Usage.Add(out.usage)
	l.msg.Steps = l.step
	l.msg.Finish = finish
	if err := l.p.store.UpdateMessage(l.persist, l.msg); err != nil {
		return out.calls, fmt.Errorf("update message: %w", err)
	}
	l.publishMessage(event.MessageUpdated, l.msg)
	return out.calls, nil
}

func (l *loop) request() (*provider.Request, error) {
	history, err := storage.LoadHistory(l.persist, l.p.store, l.session.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &provider.Request{
		Model:       l.model.ID,
		System:      l.system,
		Messages:    provider.ConvertHistory(ActiveHistory(history)),
		Tools:       l.p.executor.Registry().ToolInfos(l.agent.ToolFilter()),
		Temperature: l.agent.Temperature,
	}, nil
}

// attempt performs one provider call and applies its events as they arrive.
func (l *loop) attempt(req *provider.Request, out *stepOutput) error {
	stream, err := l.prov.Stream(l.ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		if err := l.ctx.Err(); err != nil {
			return err
		}
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch ev.Type {
		case provider.EventTextDelta:
			out.applied = true
			if err := l.textDelta(out, ev.Text); err != nil {
				return err
			}
		case provider.EventReasoningDelta:
			out.applied = true
			if err := l.reasoningDelta(out, ev.Text); err != nil {
				return err
			}
		case provider.EventToolCall:
			out.applied = true
			call, err := l.appendCall(ev.ToolCall)
			if err != nil {
				return err
			}
			out.calls = append(out.calls, call)
		case provider.EventUsage:
			out.usage.Add(types.Usage{Tokens: ev.Usage, Cost: provider.Cost(l.model, ev.Usage)})
		case provider.EventDone:
			out.finish = ev.Finish
		case provider.EventError:
			return ev.Err
		}
	}
}

func (l *loop) textDelta(out *stepOutput, delta string) error {
	if out.text == nil {
		now := time.Now().UnixMilli()
		out.text = &types.TextPart{
			PartBase: l.base(l.msg.ID),
			Text:     delta,
			Time:     types.PartTime{Start: &now},
		}
		return l.appendPart(out.text)
	}
	out.text.Text += delta
	return l.updatePart(out.text, delta)
}

func (l *loop) reasoningDelta(out *stepOutput, delta string) error {
	if out.reasoning == nil {
		now := time.Now().UnixMilli()
		out.reasoning = &types.ReasoningPart{
			PartBase: l.base(l.msg.ID),
			Text:     delta,
			Time:     types.PartTime{Start: &now},
		}
		return l.appendPart(out.reasoning)
	}
	out.reasoning.Text += delta
	return l.updatePart(out.reasoning, delta)
}

func (l *loop) appendCall(tc *provider.ToolCall) (*pendingCall, error) {
	if tc == nil {
		return nil, errors.New("tool call event without a call")
	}
	callID := tc.ID
	if callID == "" {
		callID = id.New(id.Call)
	}
	raw := json.RawMessage(tc.Arguments)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	// Malformed arguments leave Input empty; validation reports them.
	var input map[string]any
	_ = json.Unmarshal(raw, &input)

	part := &types.ToolCallPart{
		PartBase: l.base(l.msg.ID),
		CallID:   callID,
		Tool:     tc.Name,
		Input:    input,
		State:    types.ToolState{Status: types.ToolPending},
	}
	if err := l.appendPart(part); err != nil {
		return nil, err
	}
	return &pendingCall{part: part, raw: raw}, nil
}

func (l *loop) closeStreamParts(out *stepOutput) error {
	now := time.Now().UnixMilli()
	if out.text != nil {
		out.text.Time.End = &now
		if err := l.updatePart(out.text, ""); err != nil {
			return err
		}
	}
	if out.reasoning != nil {
		out.reasoning.Time.End = &now
		if err := l.updatePart(out.reasoning, ""); err != nil {
			return err
		}
	}
	return nil
}

// finalize freezes the assistant message with status and cause and returns it
// with its parts. cause is returned unchanged.
func (l *loop) finalize(status types.MessageStatus, cause error) (*types.MessageWithParts, error) {
	now := time.Now().UnixMilli()
	l.msg.Status = status
	l.msg.Time.Completed = &now
	l.msg.Error = types.NewMessageError(cause)

	log := l.p.log.Info()
	if cause != nil {
		log = l.p.log.Warn().Err(cause)
	}
	log.Str("sessionID", l.session.ID).
		Str("messageID", l.msg.ID).
		Str("status", string(status)).
		Int("steps", l.msg.Steps).
		Int("inputTokens", l.msg.Usage.Tokens.Input).
		Int("outputTokens", l.msg.Usage.Tokens.Output).
		Float64("cost", l.msg.Usage.Cost).
		Msg("run finished")

	if err := l.p.store.UpdateMessage(l.persist, l.msg); err != nil {
		if cause == nil {
			cause = fmt.Errorf("finalize message: %w", err)
		}
		l.p.log.Error().Err(err).Str("messageID", l.msg.ID).Msg("failed to finalize message")
	}
	l.publishMessage(event.MessageUpdated, l.msg)

	parts, err := l.p.store.ListParts(l.persist, l.msg.ID)
	if err != nil && cause == nil {
		cause = fmt.Errorf("list parts: %w", err)
	}
	return &types.MessageWithParts{Info: l.msg.Clone(), Parts: parts}, cause
}

// aborted closes out calls that never ran and finalizes the message as aborted.
func (l *loop) aborted(calls []*pendingCall) (*types.MessageWithParts, error) {
	l.closeCalls(calls, types.ToolAborted, "aborted")
	res, err := l.finalize(types.StatusError, types.ErrAborted)
	l.p.setState(l.session.ID, l.msg.ID, StateIdle, l.step)
	return res, err
}

// failed finalizes the message with a fatal error and leaves the loop Failed.
func (l *loop) failed(calls []*pendingCall, cause error) (*types.MessageWithParts, error) {
	l.closeCalls(calls, types.ToolAborted, "not run: "+cause.Error())
	res, err := l.finalize(types.StatusError, cause)
	l.p.setState(l.session.ID, l.msg.ID, StateFailed, l.step)
	return res, err
}

func (l *loop) base(messageID string) types.PartBase {
	return types.PartBase{
		ID:        id.NewPart(),
		SessionID: l.session.ID,
		MessageID: messageID,
	}
}

func (l *loop) appendPart(part types.Part) error {
	if err := l.p.store.AppendPart(l.persist, part); err != nil {
		return fmt.Errorf("append %s part: %w", part.PartType(), err)
	}
	l.p.bus.PublishSync(event.Event{Type: event.PartCreated, Data: event.PartData{Part: part.Clone()}})
	return nil
}

func (l *loop) updatePart(part types.Part, delta string) error {
	if err := l.p.store.UpdatePart(l.persist, part); err != nil {
		return fmt.Errorf("update %s part: %w", part.PartType(), err)
	}
	l.p.bus.PublishSync(event.Event{Type: event.PartUpdated, Data: event.PartData{Part: part.Clone(), Delta: delta}})
	return nil
}

func (l *loop) publishMessage(t event.EventType, msg *types.Message) {
	l.p.bus.PublishSync(event.Event{Type: t, Data: event.MessageData{Info: msg.Clone()}})
}
