package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/id"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/pkg/types"
)

const (
	// DefaultKeepMessages is how many recent messages Compact leaves verbatim.
	DefaultKeepMessages = 4
	// SummaryMaxTokens caps the summary the model writes.
	SummaryMaxTokens = 2000

	summaryPrefix  = "Summary of the conversation so far:\n\n"
	maxToolExcerpt = 500
)

const compactionSystemPrompt = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Current work in progress
3. Files involved
4. Next steps
5. Any key user requests or constraints

Be concise but detailed enough that work can continue seamlessly.`

const compactionInstruction = "Summarize our conversation above. This summary will be the only context available when the conversation continues, so preserve critical information including: what was accomplished, current work in progress, files involved, next steps, and any key user requests or constraints. Be concise but detailed enough that work can continue seamlessly."

// CompactInput selects the session to compact.
type CompactInput struct {
	SessionID string `json:"sessionID"`
	// Model is a "provider/model" reference for the summarizer.
	Model string `json:"model,omitempty"`
	// Keep is the number of recent messages left out of the summary.
	// Zero or less selects DefaultKeepMessages.
	Keep int `json:"keep,omitempty"`
}

// Compact asks the model to summarize the older part of the session and
// appends the summary as an assistant message marked with a Compaction.
// Nothing is removed from the log: later runs send the summary in place of
// the messages it covers (see ActiveHistory). Compact is refused with ErrBusy
// while a run is active.
func (p *Processor) Compact(ctx context.Context, in CompactInput) (*types.MessageWithParts, error) {
	runCtx, done, err := p.begin(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	defer done()
	persist := context.WithoutCancel(runCtx)

	sess, err := p.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	ag, err := p.agents.Get("")
	if err != nil {
		return nil, err
	}
	prov, model, err := p.resolveModel(RunInput{Model: in.Model}, ag, sess)
	if err != nil {
		return nil, err
	}
	history, err := storage.LoadHistory(persist, p.store, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	keep := in.Keep
	if keep <= 0 {
		keep = DefaultKeepMessages
	}
	view, summarized := activeHistory(history)
	start := 0
	if summarized {
		start = 1
	}
	cut := compactionCut(view, keep)
	if cut <= start {
		return nil, fmt.Errorf("%w: %s", ErrNothingToCompact, sess.ID)
	}
	through := view[cut-1].Info.ID

	p.setState(sess.ID, "", StateStreaming, 1)
	req := &provider.Request{
		Model:     model.ID,
		System:    compactionSystemPrompt,
		Messages:  []*schema.Message{schema.UserMessage(buildSummaryPrompt(view[:cut]) + compactionInstruction)},
		MaxTokens: SummaryMaxTokens,
	}
	text, usage, err := p.summarize(runCtx, prov, model, req, sess.ID)
	if err != nil {
		p.setState(sess.ID, "", StateIdle, 0)
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrAborted, err)
		}
		return nil, fmt.Errorf("summarize: %w", err)
	}

	res, err := p.appendSummary(persist, sess, model, through, cut-start, text, usage)
	p.setState(sess.ID, "", StateIdle, 0)
	if err != nil {
		return nil, err
	}
	p.log.Info().
		Str("sessionID", sess.ID).
		Str("messageID", res.Info.ID).
		Str("through", through).
		Int("messages", cut-start).
		Int("outputTokens", usage.Tokens.Output).
		Msg("session compacted")
	p.bus.PublishSync(event.Event{
		Type: event.SessionCompacted,
		Data: event.SessionCompactedData{SessionID: sess.ID, MessageID: res.Info.ID, Through: through},
	})
	return res, nil
}

// compactionCut returns the index of the first message kept verbatim. The
// kept tail starts on a user turn so no turn is split by the summary.
func compactionCut(view []*types.MessageWithParts, keep int) int {
	cut := len(view) - keep
	if cut < 0 {
		return 0
	}
	for cut < len(view) && view[cut].Info.Role != types.RoleUser {
		cut++
	}
	return cut
}

func (p *Processor) summarize(ctx context.Context, prov provider.Provider, model *types.Model, req *provider.Request, sessionID string) (string, types.Usage, error) {
	var (
		sb    strings.Builder
		usage types.Usage
	)
	op := func() error {
		sb.Reset()
		usage = types.Usage{}
		stream, err := prov.Stream(ctx, req)
		if err != nil {
			return retryable(ctx, err)
		}
		defer stream.Close()
		for {
			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return retryable(ctx, err)
			}
			switch ev.Type {
			case provider.EventTextDelta:
				sb.WriteString(ev.Text)
			case provider.EventUsage:
				usage.Add(types.Usage{Tokens: ev.Usage, Cost: provider.Cost(model, ev.Usage)})
			case provider.EventError:
				return retryable(ctx, ev.Err)
			}
		}
	}
	notify := func(err error, wait time.Duration) {
		p.log.Warn().Err(err).Str("sessionID", sessionID).Dur("wait", wait).Msg("retrying summary stream")
	}
	if err := backoff.RetryNotify(op, p.backoff(ctx), notify); err != nil {
		return "", usage, err
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", usage, errors.New("model returned an empty summary")
	}
	return text, usage, nil
}

func retryable(ctx context.Context, err error) error {
	if ctx.Err() != nil || !provider.IsRetryable(err) {
		return backoff.Permanent(err)
	}
	return err
}

func (p *Processor) appendSummary(
	ctx context.Context,
	sess *types.Session,
	model *types.Model,
	through string,
	covered int,
	text string,
	usage types.Usage,
) (*types.MessageWithParts, error) {
	now := time.Now().UnixMilli()
	msg := &types.Message{
		ID:         id.NewMessage(),
		SessionID:  sess.ID,
		Role:       types.RoleAssistant,
		Time:       types.MessageTime{Created: now},
		ParentID:   through,
		ProviderID: model.ProviderID,
		ModelID:    model.ID,
		Status:     types.StatusInProgress,
		Compaction: &types.Compaction{Through: through, Messages: covered},
	}
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append summary message: %w", err)
	}
	p.bus.PublishSync(event.Event{Type: event.MessageCreated, Data: event.MessageData{Info: msg.Clone()}})

	part := &types.TextPart{
		PartBase: types.PartBase{ID: id.NewPart(), SessionID: sess.ID, MessageID: msg.ID},
		Text:     text,
		Time:     types.PartTime{Start: &now, End: &now},
	}
	if err := p.store.AppendPart(ctx, part); err != nil {
		return nil, fmt.Errorf("append summary part: %w", err)
	}
	p.bus.PublishSync(event.Event{Type: event.PartCreated, Data: event.PartData{Part: part.Clone()}})

	completed := time.Now().UnixMilli()
	msg.Status = types.StatusComplete
	msg.Time.Completed = &completed
	msg.Usage = usage
	msg.Steps = 1
	msg.Finish = provider.FinishStop
	if err := p.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("update summary message: %w", err)
	}
	p.bus.PublishSync(event.Event{Type: event.MessageUpdated, Data: event.MessageData{Info: msg.Clone()}})

	return &types.MessageWithParts{Info: msg.Clone(), Parts: []types.Part{part.Clone()}}, nil
}

// buildSummaryPrompt renders messages as a transcript for the summarizer.
func buildSummaryPrompt(messages []*types.MessageWithParts) string {
	var sb strings.Builder
	sb.WriteString("Please summarize the following conversation, focusing on:\n")
	sb.WriteString("1. Key decisions and outcomes\n")
	sb.WriteString("2. Files that were modified\n")
	sb.WriteString("3. Important context for continuing the work\n\n")
	sb.WriteString("---\n\n")

	for _, m := range messages {
		if m.Info.Role == types.RoleUser {
			sb.WriteString("USER:\n")
		} else {
			sb.WriteString("ASSISTANT:\n")
		}
		for _, part := range m.Parts {
			switch pt := part.(type) {
			case *types.TextPart:
				if pt.Text != "" {
					sb.WriteString(pt.Text)
					sb.WriteString("\n")
				}
			case *types.FilePart:
				sb.WriteString(fmt.Sprintf("[File: %s]\n", pt.Filename))
			case *types.ToolCallPart:
				sb.WriteString(fmt.Sprintf("[Tool: %s]\n", pt.Tool))
			case *types.ToolResultPart:
				out := pt.Content()
				if len(out) > maxToolExcerpt {
					out = out[:maxToolExcerpt] + "..."
				}
				if out != "" {
					sb.WriteString(out)
					sb.WriteString("\n")
				}
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ActiveHistory returns the history a model sees. When the session has a
// completed summary, the messages it covers are replaced by a user message
// carrying the summary text; summary messages themselves are never sent as
// assistant output. Without a summary history is returned unchanged.
func ActiveHistory(history []*types.MessageWithParts) []*types.MessageWithParts {
	view, _ := activeHistory(history)
	return view
}

func activeHistory(history []*types.MessageWithParts) ([]*types.MessageWithParts, bool) {
	summary := -1
	for i := len(history) - 1; i >= 0; i-- {
		info := history[i].Info
		if info != nil && info.Compaction != nil && info.Status == types.StatusComplete {
			summary = i
			break
		}
	}
	if summary < 0 {
		return history, false
	}
	s := history[summary]
	through := -1
	for i := 0; i < summary; i++ {
		if history[i].Info != nil && history[i].Info.ID == s.Info.Compaction.Through {
			through = i
			break
		}
	}
	if through < 0 {
		return history, false
	}

	var text strings.Builder
	for _, part := range s.Parts {
		if tp, ok := part.(*types.TextPart); ok {
			text.WriteString(tp.Text)
		}
	}
	synthetic := &types.MessageWithParts{
		Info: &types.Message{
			ID:        s.Info.ID,
			SessionID: s.Info.SessionID,
			Seq:       s.Info.Seq,
			Role:      types.RoleUser,
			Time:      types.MessageTime{Created: s.Info.Time.Created},
		},
		Parts: []types.Part{&types.TextPart{
			PartBase: types.PartBase{SessionID: s.Info.SessionID, MessageID: s.Info.ID},
			Text:     summaryPrefix + text.String(),
		}},
	}

	out := make([]*types.MessageWithParts, 0, len(history)-through)
	out = append(out, synthetic)
	for _, m := range history[through+1:] {
		if m.Info != nil && m.Info.Compaction != nil {
			continue
		}
		out = append(out, m)
	}
	return out, true
}
