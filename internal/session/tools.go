package session

import (
	"errors"
	"fmt"

	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// resolve runs the Resolving phase for the calls of one step: validation,
// then permission in issue order, then parallel execution. Results are
// appended in issue order once every call is terminal. It returns an error
// wrapping types.ErrAborted when the run was aborted on the way.
func (l *loop) resolve(calls []*pendingCall) error {
	reg := l.p.executor.Registry()

	for _, c := range calls {
		if !l.agent.ToolEnabled(c.part.Tool) {
			if err := l.settle(c, types.ToolError, &tool.ValidationError{Tool: c.part.Tool, Reason: "unknown tool"}); err != nil {
				return err
			}
			continue
		}
		args, err := reg.Validate(c.part.Tool, c.raw)
		if err != nil {
			if err := l.settle(c, types.ToolError, err); err != nil {
				return err
			}
			continue
		}
		c.args = args
	}

	var allowed []*pendingCall
	for _, c := range calls {
		if c.part.State.Status.Terminal() {
			continue
		}
		err := l.p.perms.Authorize(l.ctx, l.permissionRequest(reg, c))
		if errors.Is(err, types.ErrAborted) || l.ctx.Err() != nil {
			l.closeCalls(calls, types.ToolAborted, "aborted")
			return types.ErrAborted
		}
		if err != nil {
			if !permission.IsDenied(err) {
				err = &permission.DeniedError{SessionID: l.session.ID, Tool: c.part.Tool, CallID: c.part.CallID, Reason: err.Error()}
			}
			if err := l.settle(c, types.ToolDenied, err); err != nil {
				return err
			}
			continue
		}
		allowed = append(allowed, c)
	}

	execs := make([]tool.Call, len(allowed))
	for i, c := range allowed {
		if err := c.part.Transition(types.ToolRunning); err != nil {
			return err
		}
		if err := l.updatePart(c.part, ""); err != nil {
			return err
		}
		execs[i] = tool.Call{
			ID:        c.part.CallID,
			Tool:      c.part.Tool,
			Input:     c.raw,
			SessionID: l.session.ID,
			MessageID: l.msg.ID,
			WorkDir:   l.session.Directory,
		}
	}

	outcomes := l.p.executor.ExecuteAll(l.ctx, execs)
	for i, o := range outcomes {
		if err := l.apply(allowed[i], o); err != nil {
			return err
		}
	}

	for _, c := range calls {
		if err := l.appendResult(c, resultAttachments(c, allowed, outcomes)); err != nil {
			return err
		}
	}
	if l.ctx.Err() != nil {
		return types.ErrAborted
	}
	return nil
}

func (l *loop) permissionRequest(reg *tool.Registry, c *pendingCall) permission.Request {
	dir := l.session.Directory
	action := permission.Action{WorkDir: dir}
	if entry, ok := reg.Get(c.part.Tool); ok {
		action.ReadOnly = entry.Definition.ReadOnly
		if d, ok := entry.Handler.(tool.Describer); ok {
			action = d.Action(c.raw, dir)
		}
	}
	if action.WorkDir == "" {
		action.WorkDir = dir
	}
	return permission.Request{
		SessionID: l.session.ID,
		MessageID: l.msg.ID,
		CallID:    c.part.CallID,
		Tool:      c.part.Tool,
		Action:    action,
		Input:     c.args,
		Rules:     l.agent.Permission,
	}
}

// settle moves a call that will not run to a terminal failure status.
func (l *loop) settle(c *pendingCall, status types.ToolStatus, cause error) error {
	if err := c.part.Fail(status, cause.Error()); err != nil {
		return err
	}
	l.p.log.Info().
		Err(cause).
		Str("sessionID", l.session.ID).
		Str("callID", c.part.CallID).
		Str("tool", c.part.Tool).
		Str("state", string(status)).
		Msg("tool call not run")
	return l.updatePart(c.part, "")
}

// apply records an executor outcome on its running call.
func (l *loop) apply(c *pendingCall, o tool.Outcome) error {
	var err error
	switch o.Status {
	case types.ToolCompleted:
		err = c.part.Complete(o.Result.Title, o.Result.Output, o.Result.Metadata)
	default:
		reason := string(o.Status)
		if o.Err != nil {
			reason = o.Err.Error()
		}
		err = c.part.Fail(o.Status, reason)
		if o.Result != nil {
			c.part.State.Title = o.Result.Title
			c.part.State.Output = o.Result.Output
			c.part.State.Metadata = o.Result.Metadata
		}
	}
	if err != nil {
		return err
	}
	return l.updatePart(c.part, "")
}

// closeCalls moves every non-terminal call to status and appends the results
// of all calls. It is used when the step ends before its results were written.
func (l *loop) closeCalls(calls []*pendingCall, status types.ToolStatus, reason string) {
	for _, c := range calls {
		if !c.part.State.Status.Terminal() {
			if err := c.part.Fail(status, reason); err != nil {
				l.p.log.Error().Err(err).Str("callID", c.part.CallID).Msg("failed to close tool call")
				continue
			}
			if err := l.updatePart(c.part, ""); err != nil {
				l.p.log.Error().Err(err).Str("callID", c.part.CallID).Msg("failed to close tool call")
				continue
			}
		}
		if err := l.appendResult(c, nil); err != nil {
			l.p.log.Error().Err(err).Str("callID", c.part.CallID).Msg("failed to append tool result")
		}
	}
}

func (l *loop) appendResult(c *pendingCall, attachments []tool.Attachment) error {
	st := c.part.State
	result := &types.ToolResultPart{
		PartBase:   l.base(l.msg.ID),
		CallID:     c.part.CallID,
		CallPartID: c.part.ID,
		Tool:       c.part.Tool,
		Status:     st.Status,
		Title:      st.Title,
		Output:     st.Output,
		Error:      st.Error,
		Metadata:   types.CloneMap(st.Metadata),
	}
	if err := l.appendPart(result); err != nil {
		return fmt.Errorf("tool result %s: %w", c.part.CallID, err)
	}
	for _, a := range attachments {
		file := &types.FilePart{
			PartBase: l.base(l.msg.ID),
			Mime:     a.MediaType,
			Filename: a.Filename,
			URL:      a.URL,
		}
		if err := l.appendPart(file); err != nil {
			return err
		}
	}
	return nil
}

func resultAttachments(c *pendingCall, allowed []*pendingCall, outcomes []tool.Outcome) []tool.Attachment {
	for i, a := range allowed {
		if a == c && outcomes[i].Result != nil {
			return outcomes[i].Result.Attachments
		}
	}
	return nil
}
