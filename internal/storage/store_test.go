package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// backends runs fn once per Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("file", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(1)
		s, err := NewSQLiteStore(db)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func newSession(id string) *types.Session {
	return &types.Session{
		ID:        id,
		ProjectID: "proj",
		Directory: "/work",
		Title:     "test",
		Time:      types.SessionTime{Created: 1, Updated: 1},
	}
}

func assistantMessage(sessionID, id string, usage types.Usage) *types.Message {
	return &types.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      types.RoleAssistant,
		Status:    types.StatusInProgress,
		Usage:     usage,
	}
}

func textPart(sessionID, messageID, id, text string) *types.TextPart {
	return &types.TextPart{
		PartBase: types.PartBase{ID: id, SessionID: sessionID, MessageID: messageID},
		Text:     text,
	}
}

func TestStore_SessionCRUD(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := newSession("ses_1")
		require.NoError(t, s.CreateSession(ctx, sess))
		assert.ErrorIs(t, s.CreateSession(ctx, newSession("ses_1")), ErrExists)

		got, err := s.GetSession(ctx, "ses_1")
		require.NoError(t, err)
		assert.Equal(t, "test", got.Title)
		assert.Equal(t, "/work", got.Directory)

		got.Title = "renamed"
		got.Time.Updated = 5
		require.NoError(t, s.UpdateSession(ctx, got))
		got, err = s.GetSession(ctx, "ses_1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Title)

		_, err = s.GetSession(ctx, "ses_missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateSession(ctx, newSession("ses_missing")), ErrNotFound)
	})
}

func TestStore_ListSessions(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, id := range []string{"ses_a", "ses_b", "ses_c"} {
			sess := newSession(id)
			sess.Time.Updated = int64(10 + i)
			require.NoError(t, s.CreateSession(ctx, sess))
		}
		archived := newSession("ses_d")
		stamp := int64(99)
		archived.Time.Archived = &stamp
		require.NoError(t, s.CreateSession(ctx, archived))

		other := newSession("ses_e")
		other.ProjectID = "other"
		require.NoError(t, s.CreateSession(ctx, other))

		list, err := s.ListSessions(ctx, ListOptions{ProjectID: "proj"})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "ses_c", list[0].ID)
		assert.Equal(t, "ses_a", list[2].ID)

		list, err = s.ListSessions(ctx, ListOptions{ProjectID: "proj", IncludeArchived: true})
		require.NoError(t, err)
		assert.Len(t, list, 4)

		list, err = s.ListSessions(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, list, 4)
	})
}

func TestStore_SeqIsSessionWide(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newSession("ses_1")))

		user := &types.Message{ID: "msg_1", SessionID: "ses_1", Role: types.RoleUser}
		require.NoError(t, s.AppendMessage(ctx, user))
		require.NoError(t, s.AppendPart(ctx, textPart("ses_1", "msg_1", "prt_1", "hi")))

		asst := assistantMessage("ses_1", "msg_2", types.Usage{})
		require.NoError(t, s.AppendMessage(ctx, asst))

		assert.Equal(t, int64(1), user.Seq)
		assert.Equal(t, int64(3), asst.Seq)

		msgs, err := s.ListMessages(ctx, "ses_1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "msg_1", msgs[0].ID)
		assert.Equal(t, "msg_2", msgs[1].ID)

		assert.ErrorIs(t, s.AppendMessage(ctx, &types.Message{ID: "msg_x", SessionID: "ses_missing", Role: types.RoleUser}), ErrNotFound)
		assert.ErrorIs(t, s.AppendPart(ctx, textPart("ses_1", "msg_missing", "prt_2", "x")), ErrNotFound)
	})
}

func TestStore_ConcurrentAppendsKeepOrder(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newSession("ses_1")))
		require.NoError(t, s.AppendMessage(ctx, assistantMessage("ses_1", "msg_1", types.Usage{})))

		const n = 40
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.AppendPart(ctx, textPart("ses_1", "msg_1", fmt.Sprintf("prt_%02d", i), "x"))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		parts, err := s.ListParts(ctx, "msg_1")
		require.NoError(t, err)
		require.Len(t, parts, n)
		seen := map[int64]bool{}
		for i, p := range parts {
			seq := p.Base().Seq
			assert.False(t, seen[seq], "duplicate seq %d", seq)
			seen[seq] = true
			if i > 0 {
				assert.Greater(t, seq, parts[i-1].Base().Seq)
			}
		}
	})
}

func TestStore_UsageIsDerived(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newSession("ses_1")))

		u1 := types.Usage{Tokens: types.TokenUsage{Input: 100, Output: 20}, Cost: 0.25}
		u2 := types.Usage{Tokens: types.TokenUsage{Input: 50, Output: 5, Cache: types.CacheUsage{Read: 7}}, Cost: 0.5}
		require.NoError(t, s.AppendMessage(ctx, assistantMessage("ses_1", "msg_1", u1)))
		m2 := assistantMessage("ses_1", "msg_2", types.Usage{})
		require.NoError(t, s.AppendMessage(ctx, m2))

		m2.Usage = u2
		require.NoError(t, s.UpdateMessage(ctx, m2))

		sess, err := s.GetSession(ctx, "ses_1")
		require.NoError(t, err)
		assert.Equal(t, 150, sess.Usage.Tokens.Input)
		assert.Equal(t, 25, sess.Usage.Tokens.Output)
		assert.Equal(t, 7, sess.Usage.Tokens.Cache.Read)
		assert.InDelta(t, 0.75, sess.Usage.Cost, 1e-9)

		// Callers cannot overwrite the aggregate.
		sess.Usage = types.Usage{Cost: 100}
		require.NoError(t, s.UpdateSession(ctx, sess))
		sess, err = s.GetSession(ctx, "ses_1")
		require.NoError(t, err)
		assert.InDelta(t, 0.75, sess.Usage.Cost, 1e-9)
	})
}

func TestStore_FrozenMessage(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newSession("ses_1")))
		m := assistantMessage("ses_1", "msg_1", types.Usage{})
		require.NoError(t, s.AppendMessage(ctx, m))

		m.Status = types.StatusComplete
		m.Finish = "stop"
		require.NoError(t, s.UpdateMessage(ctx, m))

		m.Finish = "length"
		assert.ErrorIs(t, s.UpdateMessage(ctx, m), ErrFrozen)

		got, err := s.GetMessage(ctx, "ses_1", "msg_1")
		require.NoError(t, err)
		assert.Equal(t, "stop", got.Finish)
	})
}

func TestStore_ToolCallTransitions(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newSession("ses_1")))
		require.NoError(t, s.AppendMessage(ctx, assistantMessage("ses_1", "msg_1", types.Usage{})))

		call := &types.ToolCallPart{
			PartBase: types.PartBase{ID: "prt_1", SessionID: "ses_1", MessageID: "msg_1"},
			CallID:   "call_1",
			Tool:     "read",
			Input:    map[string]any{"path": "a.go"},
			State:    types.ToolState{Status: types.ToolPending},
		}
		require.NoError(t, s.AppendPart(ctx, call))

		require.NoError(t, call.Transition(types.ToolRunning))
		require.NoError(t, s.UpdatePart(ctx, call))
		require.NoError(t, call.Complete("a.go", "package a", nil))
		require.NoError(t, s.UpdatePart(ctx, call))

		// Terminal states are final.
		reopened := call.Clone().(*types.ToolCallPart)
		reopened.State.Status = types.ToolRunning
		assert.ErrorIs(t, s.UpdatePart(ctx, reopened), types.ErrInvalidTransition)

		rewritten := call.Clone().(*types.ToolCallPart)
		rewritten.State.Output = "changed"
		assert.ErrorIs(t, s.UpdatePart(ctx, rewritten), types.ErrInvalidTransition)

		parts, err := s.ListParts(ctx, "msg_1")
		require.NoError(t, err)
		require.Len(t, parts, 1)
		stored := parts[0].(*types.ToolCallPart)
		assert.Equal(t, types.ToolCompleted, stored.State.Status)
		assert.Equal(t, "package a", stored.State.Output)

		// A part cannot change its kind.
		swapped := textPart("ses_1", "msg_1", "prt_1", "x")
		assert.Error(t, s.UpdatePart(ctx, swapped))
	})
}

func TestStore_ChildrenAndDelete(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newSession("ses_parent")))
		parent := "ses_parent"
		for _, id := range []string{"ses_c1", "ses_c2"} {
			child := newSession(id)
			child.ParentID = &parent
			require.NoError(t, s.CreateSession(ctx, child))
		}

		children, err := s.Children(ctx, "ses_parent")
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "ses_c1", children[0].ID)

		roots, err := s.ListSessions(ctx, ListOptions{RootsOnly: true})
		require.NoError(t, err)
		require.Len(t, roots, 1)
		assert.Equal(t, "ses_parent", roots[0].ID)

		require.NoError(t, s.AppendMessage(ctx, assistantMessage("ses_c1", "msg_1", types.Usage{})))
		require.NoError(t, s.AppendPart(ctx, textPart("ses_c1", "msg_1", "prt_1", "hi")))

		require.NoError(t, s.DeleteSession(ctx, "ses_c1"))
		_, err = s.GetSession(ctx, "ses_c1")
		assert.ErrorIs(t, err, ErrNotFound)
		msgs, err := s.ListMessages(ctx, "ses_c1")
		require.NoError(t, err)
		assert.Empty(t, msgs)
		parts, err := s.ListParts(ctx, "msg_1")
		require.NoError(t, err)
		assert.Empty(t, parts)

		children, err = s.Children(ctx, "ses_parent")
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, "ses_c2", children[0].ID)

		assert.ErrorIs(t, s.DeleteSession(ctx, "ses_c1"), ErrNotFound)
	})
}

func TestFileStore_LocksOnlyPerSession(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, newSession("ses_1")))
	require.NoError(t, s.AppendMessage(ctx, assistantMessage("ses_1", "msg_1", types.Usage{})))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendPart(ctx, textPart("ses_1", "msg_1", fmt.Sprintf("prt_%d", i), "x")))
	}

	var locks []string
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && strings.HasSuffix(path, ".lock") {
			rel, _ := filepath.Rel(root, path)
			locks = append(locks, filepath.ToSlash(rel))
		}
		return err
	}))
	assert.Equal(t, []string{"lock/ses_1.lock"}, locks)
	assert.Empty(t, s.locks.locks)
}

func TestLoadHistory(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newSession("ses_1")))
		require.NoError(t, s.AppendMessage(ctx, &types.Message{ID: "msg_1", SessionID: "ses_1", Role: types.RoleUser}))
		require.NoError(t, s.AppendPart(ctx, textPart("ses_1", "msg_1", "prt_1", "question")))
		require.NoError(t, s.AppendMessage(ctx, assistantMessage("ses_1", "msg_2", types.Usage{})))
		require.NoError(t, s.AppendPart(ctx, textPart("ses_1", "msg_2", "prt_2", "answer")))

		history, err := LoadHistory(ctx, s, "ses_1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "question", history[0].Parts[0].(*types.TextPart).Text)
		assert.Equal(t, "answer", history[1].Parts[0].(*types.TextPart).Text)
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	fs, err := Open(EngineFile, filepath.Join(dir, "files"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fs)

	db, err := Open(EngineSQLite, filepath.Join(dir, "db", "agent.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, db)
	require.NoError(t, db.Close())

	_, err = Open("bogus", dir)
	assert.Error(t, err)
}
