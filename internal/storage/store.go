// Package storage provides the durable message store: sessions, messages and
// their ordered parts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/opencode-ai/agentcore/pkg/types"
)

var (
	// ErrNotFound is returned when a session, message or part does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a record whose id is taken.
	ErrExists = errors.New("already exists")
	// ErrFrozen is returned when updating a message whose status is complete or error.
	ErrFrozen = errors.New("message is frozen")
)

// ListOptions filters ListSessions.
type ListOptions struct {
	ProjectID       string
	IncludeArchived bool
	RootsOnly       bool
}

// Store persists sessions, messages and parts.
//
// Every write is atomic: it either fully succeeds or has no visible effect.
// Writers are serialized per session, so Seq values handed out by AppendMessage
// and AppendPart are strictly increasing within a session regardless of how
// many goroutines append concurrently. Different sessions never contend.
//
// The store maintains Session.Usage as the sum of the usage recorded on the
// session's assistant messages; callers cannot overwrite it.
type Store interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, s *types.Session) error
	ListSessions(ctx context.Context, opts ListOptions) ([]*types.Session, error)
	// Children lists the sessions forked from parentID.
	Children(ctx context.Context, parentID string) ([]*types.Session, error)
	// DeleteSession removes the session with all of its messages and parts.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage stores a new message and assigns its Seq.
	AppendMessage(ctx context.Context, m *types.Message) error
	// UpdateMessage replaces a message. Frozen messages return ErrFrozen.
	UpdateMessage(ctx context.Context, m *types.Message) error
	GetMessage(ctx context.Context, sessionID, messageID string) (*types.Message, error)
	// ListMessages returns the session's messages in Seq order.
	ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error)

	// AppendPart stores a new part and assigns its Seq.
	AppendPart(ctx context.Context, p types.Part) error
	// UpdatePart replaces a part. Tool call parts may not leave a terminal state.
	UpdatePart(ctx context.Context, p types.Part) error
	// ListParts returns the message's parts in Seq order.
	ListParts(ctx context.Context, messageID string) ([]types.Part, error)

	Close() error
}

// Engine names accepted by Open.
const (
	EngineFile   = "file"
	EngineSQLite = "sqlite"
)

// Open creates a store for the given engine rooted at path. For the file engine
// path is a directory; for sqlite it is the database file.
func Open(engine, path string) (Store, error) {
	switch engine {
	case "", EngineFile:
		return NewFileStore(path)
	case EngineSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", engine)
	}
}

// LoadHistory returns every message of a session with its parts, in order.
func LoadHistory(ctx context.Context, s Store, sessionID string) ([]*types.MessageWithParts, error) {
	msgs, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.MessageWithParts, 0, len(msgs))
	for _, m := range msgs {
		parts, err := s.ListParts(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("list parts of %s: %w", m.ID, err)
		}
		out = append(out, &types.MessageWithParts{Info: m, Parts: parts})
	}
	return out, nil
}

func checkPartUpdate(prev, next types.Part) error {
	if prev.PartType() != next.PartType() {
		return fmt.Errorf("part %s: cannot change type %s to %s", next.Base().ID, prev.PartType(), next.PartType())
	}
	oldCall, ok := prev.(*types.ToolCallPart)
	if !ok {
		return nil
	}
	newCall := next.(*types.ToolCallPart)
	return types.CheckToolTransition(oldCall.State.Status, newCall.State.Status)
}

func checkMessageUpdate(prev, next *types.Message) error {
	if prev.Status.Frozen() {
		return fmt.Errorf("%w: %s is %s", ErrFrozen, prev.ID, prev.Status)
	}
	if prev.Role != next.Role {
		return fmt.Errorf("message %s: cannot change role", next.ID)
	}
	return nil
}

func sortSessions(sessions []*types.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Time.Updated != sessions[j].Time.Updated {
			return sessions[i].Time.Updated > sessions[j].Time.Updated
		}
		return sessions[i].ID > sessions[j].ID
	})
}

func matchSession(s *types.Session, opts ListOptions) bool {
	if opts.ProjectID != "" && s.ProjectID != opts.ProjectID {
		return false
	}
	if !opts.IncludeArchived && s.IsArchived() {
		return false
	}
	if opts.RootsOnly && s.ParentID != nil {
		return false
	}
	return true
}
