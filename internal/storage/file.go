package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// FileStore keeps every record as a JSON document:
//
//	session/<sessionID>.json
//	message/<sessionID>/<messageID>.json
//	part/<messageID>/<partID>.json
//	children/<parentID>/<childID>.json
//	seq/<sessionID>.json
//
// Writes for one session hold that session's FileLock, which also guards
// against other processes sharing the directory.
type FileStore struct {
	kv    *kv
	locks *keyedMutex
}

type seqRecord struct {
	Last int64 `json:"last"`
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{kv: newKV(dir), locks: newKeyedMutex()}, nil
}

func (s *FileStore) withSession(sessionID string, fn func() error) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	lock := NewFileLock(filepath.Join(s.kv.root, "lock", sessionID))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer lock.Unlock()
	return fn()
}

func (s *FileStore) nextSeq(sessionID string) (int64, error) {
	var rec seqRecord
	if err := s.kv.get([]string{"seq", sessionID}, &rec); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	rec.Last++
	if err := s.kv.put([]string{"seq", sessionID}, rec); err != nil {
		return 0, err
	}
	return rec.Last, nil
}

func (s *FileStore) CreateSession(ctx context.Context, sess *types.Session) error {
	return s.withSession(sess.ID, func() error {
		if s.kv.exists([]string{"session", sess.ID}) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrExists)
		}
		sess.Usage = types.Usage{}
		if err := s.kv.put([]string{"session", sess.ID}, sess); err != nil {
			return err
		}
		if sess.ParentID != nil {
			return s.kv.put([]string{"children", *sess.ParentID, sess.ID}, struct{}{})
		}
		return nil
	})
}

func (s *FileStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	if err := s.kv.get([]string{"session", id}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *FileStore) UpdateSession(ctx context.Context, sess *types.Session) error {
	return s.withSession(sess.ID, func() error {
		prev, err := s.GetSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		sess.Usage = prev.Usage
		sess.ParentID = prev.ParentID
		return s.kv.put([]string{"session", sess.ID}, sess)
	})
}

func (s *FileStore) ListSessions(ctx context.Context, opts ListOptions) ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.kv.scan([]string{"session"}, func(key string, data []byte) error {
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("decode session %s: %w", key, err)
		}
		if matchSession(&sess, opts) {
			sessions = append(sessions, &sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSessions(sessions)
	return sessions, nil
}

func (s *FileStore) Children(ctx context.Context, parentID string) ([]*types.Session, error) {
	keys, err := s.kv.list([]string{"children", parentID})
	if err != nil {
		return nil, err
	}
	children := make([]*types.Session, 0, len(keys))
	for _, key := range keys {
		child, err := s.GetSession(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

func (s *FileStore) DeleteSession(ctx context.Context, id string) error {
	return s.withSession(id, func() error {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		msgIDs, err := s.kv.list([]string{"message", id})
		if err != nil {
			return err
		}
		// The session document goes first so a failure part way leaves no
		// reachable session with missing history.
		if err := s.kv.delete([]string{"session", id}); err != nil {
			return err
		}
		for _, msgID := range msgIDs {
			if err := s.kv.removeAll([]string{"part", msgID}); err != nil {
				return err
			}
		}
		if err := s.kv.removeAll([]string{"message", id}); err != nil {
			return err
		}
		if err := s.kv.delete([]string{"seq", id}); err != nil {
			return err
		}
		if sess.ParentID != nil {
			if err := s.kv.delete([]string{"children", *sess.ParentID, id}); err != nil {
				return err
			}
		}
		return s.kv.removeAll([]string{"children", id})
	})
}

func (s *FileStore) AppendMessage(ctx context.Context, m *types.Message) error {
	return s.withSession(m.SessionID, func() error {
		if !s.kv.exists([]string{"session", m.SessionID}) {
			return fmt.Errorf("session %s: %w", m.SessionID, ErrNotFound)
		}
		if s.kv.exists([]string{"message", m.SessionID, m.ID}) {
			return fmt.Errorf("message %s: %w", m.ID, ErrExists)
		}
		seq, err := s.nextSeq(m.SessionID)
		if err != nil {
			return err
		}
		m.Seq = seq
		if err := s.kv.put([]string{"message", m.SessionID, m.ID}, m); err != nil {
			return err
		}
		if m.IsAssistant() {
			return s.refreshUsage(ctx, m.SessionID)
		}
		return nil
	})
}

func (s *FileStore) UpdateMessage(ctx context.Context, m *types.Message) error {
	return s.withSession(m.SessionID, func() error {
		prev, err := s.GetMessage(ctx, m.SessionID, m.ID)
		if err != nil {
			return err
		}
		if err := checkMessageUpdate(prev, m); err != nil {
			return err
		}
		m.Seq = prev.Seq
		if err := s.kv.put([]string{"message", m.SessionID, m.ID}, m); err != nil {
			return err
		}
		if m.IsAssistant() {
			return s.refreshUsage(ctx, m.SessionID)
		}
		return nil
	})
}

// refreshUsage recomputes the session aggregate. Callers hold the session lock.
func (s *FileStore) refreshUsage(ctx context.Context, sessionID string) error {
	msgs, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Usage = types.SumUsage(msgs)
	return s.kv.put([]string{"session", sessionID}, sess)
}

func (s *FileStore) GetMessage(ctx context.Context, sessionID, messageID string) (*types.Message, error) {
	var m types.Message
	if err := s.kv.get([]string{"message", sessionID, messageID}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *FileStore) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var msgs []*types.Message
	err := s.kv.scan([]string{"message", sessionID}, func(key string, data []byte) error {
		var m types.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode message %s: %w", key, err)
		}
		msgs = append(msgs, &m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	return msgs, nil
}

func (s *FileStore) AppendPart(ctx context.Context, p types.Part) error {
	b := p.Base()
	return s.withSession(b.SessionID, func() error {
		if !s.kv.exists([]string{"message", b.SessionID, b.MessageID}) {
			return fmt.Errorf("message %s: %w", b.MessageID, ErrNotFound)
		}
		if s.kv.exists([]string{"part", b.MessageID, b.ID}) {
			return fmt.Errorf("part %s: %w", b.ID, ErrExists)
		}
		seq, err := s.nextSeq(b.SessionID)
		if err != nil {
			return err
		}
		b.Seq = seq
		data, err := types.MarshalPart(p)
		if err != nil {
			return err
		}
		return s.kv.putRaw([]string{"part", b.MessageID, b.ID}, data)
	})
}

func (s *FileStore) UpdatePart(ctx context.Context, p types.Part) error {
	b := p.Base()
	return s.withSession(b.SessionID, func() error {
		raw, err := s.kv.getRaw([]string{"part", b.MessageID, b.ID})
		if err != nil {
			return err
		}
		prev, err := types.UnmarshalPart(raw)
		if err != nil {
			return err
		}
		if err := checkPartUpdate(prev, p); err != nil {
			return err
		}
		b.Seq = prev.Base().Seq
		data, err := types.MarshalPart(p)
		if err != nil {
			return err
		}
		return s.kv.putRaw([]string{"part", b.MessageID, b.ID}, data)
	})
}

func (s *FileStore) ListParts(ctx context.Context, messageID string) ([]types.Part, error) {
	var parts []types.Part
	err := s.kv.scan([]string{"part", messageID}, func(key string, data []byte) error {
		p, err := types.UnmarshalPart(data)
		if err != nil {
			return fmt.Errorf("decode part %s: %w", key, err)
		}
		parts = append(parts, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Base().Seq < parts[j].Base().Seq })
	return parts, nil
}

func (s *FileStore) Close() error { return nil }
