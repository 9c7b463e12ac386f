package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/id"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// Version is stamped on new sessions.
const Version = "1"

// CreateInput describes a new session.
type CreateInput struct {
	// Directory is the project directory; the working directory by default.
	Directory string `json:"directory,omitempty"`
	// Model is an optional "provider/model" default for the session's runs.
	Model    string  `json:"model,omitempty"`
	Title    string  `json:"title,omitempty"`
	ParentID *string `json:"parentID,omitempty"`
}

// Service manages session operations.
type Service struct {
	store     storage.Store
	processor *Processor
	perms     *permission.Engine
	bus       *event.Bus
	log       zerolog.Logger
}

// NewService creates a session service. processor may be nil for callers
// that only manage stored sessions.
func NewService(store storage.Store, processor *Processor) *Service {
	s := &Service{
		store:     store,
		processor: processor,
		bus:       event.Default(),
		log:       logging.ForComponent("session"),
	}
	if processor != nil {
		s.perms = processor.perms
		s.bus = processor.bus
	}
	return s
}

// Processor returns the agent loop, or nil.
func (s *Service) Processor() *Processor {
	return s.processor
}

// Bus returns the bus session events are published on.
func (s *Service) Bus() *event.Bus {
	return s.bus
}

// Create creates a new session.
func (s *Service) Create(ctx context.Context, in CreateInput) (*types.Session, error) {
	dir := in.Directory
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &types.Session{
		ID:        id.NewSession(),
		ProjectID: ProjectID(dir),
		Directory: dir,
		ParentID:  in.ParentID,
		Title:     in.Title,
		Version:   Version,
		Time: types.SessionTime{
			Created: now.UnixMilli(),
			Updated: now.UnixMilli(),
		},
	}
	if sess.Title == "" {
		sess.Title = "New session - " + now.UTC().Format(time.RFC3339)
	}
	if in.Model != "" {
		ref, err := provider.ParseModel(in.Model)
		if err != nil {
			return nil, err
		}
		sess.Model = &ref
	}
	if in.ParentID != nil {
		if _, err := s.store.GetSession(ctx, *in.ParentID); err != nil {
			return nil, fmt.Errorf("parent session: %w", err)
		}
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.log.Info().Str("sessionID", sess.ID).Str("directory", dir).Msg("session created")
	s.publish(event.SessionCreated, sess)
	return sess, nil
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// List lists sessions, most recently updated first.
func (s *Service) List(ctx context.Context, opts storage.ListOptions) ([]*types.Session, error) {
	return s.store.ListSessions(ctx, opts)
}

// Children returns the sessions forked from sessionID.
func (s *Service) Children(ctx context.Context, sessionID string) ([]*types.Session, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Children(ctx, sessionID)
}

// Messages returns the session's messages with their parts, in order.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]*types.MessageWithParts, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return storage.LoadHistory(ctx, s.store, sessionID)
}

// Delete removes a session, its history and every session forked from it.
// A session with an active run cannot be deleted.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.processor != nil && s.processor.IsRunning(sessionID) {
		return fmt.Errorf("%w: %s", ErrBusy, sessionID)
	}

	children, err := s.store.Children(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.Delete(ctx, child.ID); err != nil {
			return fmt.Errorf("delete child %s: %w", child.ID, err)
		}
	}

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if s.perms != nil {
		s.perms.Forget(sessionID)
	}
	if s.processor != nil {
		s.processor.forget(sessionID)
	}
	s.log.Info().Str("sessionID", sessionID).Msg("session deleted")
	s.publish(event.SessionDeleted, sess)
	return nil
}

// SetTitle renames a session.
func (s *Service) SetTitle(ctx context.Context, sessionID, title string) (*types.Session, error) {
	return s.update(ctx, sessionID, func(sess *types.Session) error {
		if title == "" {
			return errors.New("title must not be empty")
		}
		sess.Title = title
		return nil
	})
}

// SetArchived archives or restores a session.
func (s *Service) SetArchived(ctx context.Context, sessionID string, archived bool) (*types.Session, error) {
	return s.update(ctx, sessionID, func(sess *types.Session) error {
		if !archived {
			sess.Time.Archived = nil
			return nil
		}
		if sess.Time.Archived == nil {
			now := time.Now().UnixMilli()
			sess.Time.Archived = &now
		}
		return nil
	})
}

// SetPermission replaces the session-level permission rules. They take
// precedence over configuration rules for this session's runs.
func (s *Service) SetPermission(ctx context.Context, sessionID string, rules []types.PermissionRule) (*types.Session, error) {
	for i := range rules {
		if !rules[i].Action.Valid() {
			return nil, fmt.Errorf("rule %d: invalid action %q", i, rules[i].Action)
		}
		if rules[i].Tool == "" {
			rules[i].Tool = "*"
		}
		rules[i].Scope = types.ScopeSession
	}
	sess, err := s.update(ctx, sessionID, func(sess *types.Session) error {
		sess.Permission = append([]types.PermissionRule(nil), rules...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.perms != nil {
		if err := s.perms.SetSessionRules(sessionID, rules); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *Service) update(ctx context.Context, sessionID string, fn func(*types.Session) error) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	sess.Time.Updated = time.Now().UnixMilli()
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.publish(event.SessionUpdated, sess)
	return sess, nil
}

// Usage returns the session's aggregate usage, computed from its assistant messages.
func (s *Service) Usage(ctx context.Context, sessionID string) (types.Usage, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.Usage{}, err
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return types.Usage{}, err
	}
	total := types.SumUsage(msgs)
	if total != sess.Usage {
		s.log.Warn().
			Str("sessionID", sessionID).
			Float64("stored", sess.Usage.Cost).
			Float64("computed", total.Cost).
			Msg("session usage out of date")
	}
	return total, nil
}

// Fork copies the session's history up to and including messageID into a new
// child session. An empty messageID copies everything.
func (s *Service) Fork(ctx context.Context, sessionID, messageID string) (*types.Session, error) {
	src, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := storage.LoadHistory(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if messageID != "" {
		cut := -1
		for i, m := range history {
			if m.Info.ID == messageID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return nil, fmt.Errorf("message %s: %w", messageID, storage.ErrNotFound)
		}
		history = history[:cut+1]
	}

	siblings, err := s.store.Children(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	fork := src.Clone()
	fork.ID = id.NewSession()
	fork.ParentID = &src.ID
	fork.Title = fmt.Sprintf("%s (fork #%d)", src.Title, len(siblings)+1)
	fork.Time = types.SessionTime{Created: now, Updated: now}
	fork.Usage = types.Usage{}
	if err := s.store.CreateSession(ctx, fork); err != nil {
		return nil, fmt.Errorf("failed to save fork: %w", err)
	}

	if err := s.copyHistory(ctx, fork.ID, history); err != nil {
		if derr := s.store.DeleteSession(ctx, fork.ID); derr != nil {
			s.log.Error().Err(derr).Str("sessionID", fork.ID).Msg("failed to remove partial fork")
		}
		return nil, fmt.Errorf("fork %s: %w", sessionID, err)
	}

	out, err := s.store.GetSession(ctx, fork.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("sessionID", out.ID).
		Str("parentID", sessionID).
		Int("messages", len(history)).
		Msg("session forked")
	s.publish(event.SessionCreated, out)
	return out, nil
}

// copyHistory appends copies of history to sessionID under fresh ids,
// remapping message parents and result-to-call references.
func (s *Service) copyHistory(ctx context.Context, sessionID string, history []*types.MessageWithParts) error {
	msgIDs := make(map[string]string, len(history))
	partIDs := make(map[string]string)

	for _, mwp := range history {
		m := mwp.Info.Clone()
		msgIDs[m.ID] = id.NewMessage()
		m.ID = msgIDs[m.ID]
		m.SessionID = sessionID
		if parent, ok := msgIDs[m.ParentID]; ok {
			m.ParentID = parent
		}
		if m.Compaction != nil {
			if through, ok := msgIDs[m.Compaction.Through]; ok {
				m.Compaction.Through = through
			}
		}
		if m.IsAssistant() && !m.Status.Frozen() {
			now := time.Now().UnixMilli()
			m.Status = types.StatusError
			m.Time.Completed = &now
			m.Error = types.NewMessageError(types.ErrAborted)
		}
		if err := s.store.AppendMessage(ctx, m); err != nil {
			return err
		}

		for _, p := range mwp.Parts {
			c := p.Clone()
			b := c.Base()
			partIDs[b.ID] = id.NewPart()
			b.ID = partIDs[b.ID]
			b.SessionID = sessionID
			b.MessageID = m.ID
			if r, ok := c.(*types.ToolResultPart); ok {
				if callPart, ok := partIDs[r.CallPartID]; ok {
					r.CallPartID = callPart
				}
			}
			if err := s.store.AppendPart(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run starts a run on the session. See Processor.Run.
func (s *Service) Run(ctx context.Context, in RunInput) (*types.MessageWithParts, error) {
	if s.processor == nil {
		return nil, errors.New("session service has no processor")
	}
	return s.processor.Run(ctx, in)
}

// Compact summarizes the older part of the session. See Processor.Compact.
func (s *Service) Compact(ctx context.Context, in CompactInput) (*types.MessageWithParts, error) {
	if s.processor == nil {
		return nil, errors.New("session service has no processor")
	}
	return s.processor.Compact(ctx, in)
}

// Abort cancels the session's active run.
func (s *Service) Abort(sessionID string) error {
	if s.processor == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, sessionID)
	}
	return s.processor.Abort(sessionID)
}

func (s *Service) publish(t event.EventType, sess *types.Session) {
	s.bus.PublishSync(event.Event{Type: t, Data: event.SessionData{Info: sess.Clone()}})
}

// ProjectID returns the project ID of sessions created in directory.
func ProjectID(directory string) string {
	if abs, err := filepath.Abs(directory); err == nil {
		directory = abs
	}
	h := sha256.New()
	h.Write([]byte(directory))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
