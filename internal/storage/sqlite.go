package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/opencode-ai/agentcore/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	parent_id    TEXT,
	archived     INTEGER,
	last_seq     INTEGER NOT NULL DEFAULT 0,
	time_created INTEGER NOT NULL,
	time_updated INTEGER NOT NULL,
	data         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_parent ON session(parent_id);
CREATE INDEX IF NOT EXISTS idx_session_project ON session(project_id, time_updated);

CREATE TABLE IF NOT EXISTS message (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES session(id) ON DELETE CASCADE,
	seq              INTEGER NOT NULL,
	role             TEXT NOT NULL,
	status           TEXT,
	input_tokens     INTEGER NOT NULL DEFAULT 0,
	output_tokens    INTEGER NOT NULL DEFAULT 0,
	reasoning_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read       INTEGER NOT NULL DEFAULT 0,
	cache_write      INTEGER NOT NULL DEFAULT 0,
	cost             REAL NOT NULL DEFAULT 0,
	data             TEXT NOT NULL,
	UNIQUE(session_id, seq)
);

CREATE TABLE IF NOT EXISTS part (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES message(id) ON DELETE CASCADE,
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	type       TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_part_message ON part(message_id, seq);
CREATE INDEX IF NOT EXISTS idx_part_session ON part(session_id);
`

// SQLiteStore keeps sessions, messages and parts in SQLite tables. Messages
// and parts cascade on delete through foreign keys. Seq values come from a
// per-session counter bumped inside the write transaction.
type SQLiteStore struct {
	db    *sql.DB
	locks *keyedMutex
}

// OpenSQLite opens (or creates) the database at path. ":memory:" opens a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = "file:" + path +
			"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and applies the schema. In-memory
// databases must be limited to a single connection by the caller.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, locks: newKeyedMutex()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return err
	}
	_, err := s.db.Exec(sqliteSchema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// write runs fn in a transaction while holding the session's write lock.
func (s *SQLiteStore) write(ctx context.Context, sessionID string, fn func(tx *sql.Tx) error) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nextSeqTx(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE session SET last_seq = last_seq + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT last_seq FROM session WHERE id = ?`, sessionID).Scan(&seq)
	return seq, err
}

func archivedValue(sess *types.Session) any {
	if sess.Time.Archived == nil {
		return nil
	}
	return *sess.Time.Archived
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *types.Session) error {
	return s.write(ctx, sess.ID, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM session WHERE id = ?`, sess.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("session %s: %w", sess.ID, ErrExists)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		sess.Usage = types.Usage{}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session (id, project_id, parent_id, archived, time_created, time_updated, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.ProjectID, sess.ParentID, archivedValue(sess), sess.Time.Created, sess.Time.Updated, string(data))
		return err
	})
}

func scanSession(row interface{ Scan(...any) error }) (*types.Session, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sess types.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT data FROM session WHERE id = ?`, id))
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *types.Session) error {
	return s.write(ctx, sess.ID, func(tx *sql.Tx) error {
		prev, err := scanSession(tx.QueryRowContext(ctx, `SELECT data FROM session WHERE id = ?`, sess.ID))
		if err != nil {
			return err
		}
		sess.Usage = prev.Usage
		sess.ParentID = prev.ParentID
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE session SET project_id = ?, archived = ?, time_updated = ?, data = ? WHERE id = ?`,
			sess.ProjectID, archivedValue(sess), sess.Time.Updated, string(data), sess.ID)
		return err
	})
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*types.Session, error) {
	query := `SELECT data FROM session WHERE 1 = 1`
	var args []any
	if opts.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, opts.ProjectID)
	}
	if !opts.IncludeArchived {
		query += ` AND archived IS NULL`
	}
	if opts.RootsOnly {
		query += ` AND parent_id IS NULL`
	}
	query += ` ORDER BY time_updated DESC, id DESC`
	return s.querySessions(ctx, query, args...)
}

func (s *SQLiteStore) Children(ctx context.Context, parentID string) ([]*types.Session, error) {
	return s.querySessions(ctx, `SELECT data FROM session WHERE parent_id = ? ORDER BY id`, parentID)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return s.write(ctx, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM session WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		// Explicit deletes keep databases opened without foreign_keys consistent.
		if _, err := tx.ExecContext(ctx, `DELETE FROM part WHERE session_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM message WHERE session_id = ?`, id)
		return err
	})
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *types.Message) error {
	return s.write(ctx, m.SessionID, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM message WHERE id = ?`, m.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("message %s: %w", m.ID, ErrExists)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		seq, err := nextSeqTx(ctx, tx, m.SessionID)
		if err != nil {
			return err
		}
		m.Seq = seq
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		u := m.Usage
		_, err = tx.ExecContext(ctx,
			`INSERT INTO message (id, session_id, seq, role, status, input_tokens, output_tokens,
			   reasoning_tokens, cache_read, cache_write, cost, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SessionID, m.Seq, string(m.Role), string(m.Status),
			u.Tokens.Input, u.Tokens.Output, u.Tokens.Reasoning, u.Tokens.Cache.Read, u.Tokens.Cache.Write, u.Cost,
			string(data))
		if err != nil {
			return err
		}
		if m.IsAssistant() {
			return refreshUsageTx(ctx, tx, m.SessionID)
		}
		return nil
	})
}

func scanMessage(row interface{ Scan(...any) error }) (*types.Message, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var m types.Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, m *types.Message) error {
	return s.write(ctx, m.SessionID, func(tx *sql.Tx) error {
		prev, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT data FROM message WHERE id = ? AND session_id = ?`, m.ID, m.SessionID))
		if err != nil {
			return err
		}
		if err := checkMessageUpdate(prev, m); err != nil {
			return err
		}
		m.Seq = prev.Seq
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		u := m.Usage
		_, err = tx.ExecContext(ctx,
			`UPDATE message SET status = ?, input_tokens = ?, output_tokens = ?, reasoning_tokens = ?,
			   cache_read = ?, cache_write = ?, cost = ?, data = ?
			 WHERE id = ?`,
			string(m.Status), u.Tokens.Input, u.Tokens.Output, u.Tokens.Reasoning,
			u.Tokens.Cache.Read, u.Tokens.Cache.Write, u.Cost, string(data), m.ID)
		if err != nil {
			return err
		}
		if m.IsAssistant() {
			return refreshUsageTx(ctx, tx, m.SessionID)
		}
		return nil
	})
}

func refreshUsageTx(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var u types.Usage
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		   COALESCE(SUM(reasoning_tokens), 0), COALESCE(SUM(cache_read), 0),
		   COALESCE(SUM(cache_write), 0), COALESCE(SUM(cost), 0)
		 FROM message WHERE session_id = ? AND role = ?`,
		sessionID, string(types.RoleAssistant)).
		Scan(&u.Tokens.Input, &u.Tokens.Output, &u.Tokens.Reasoning, &u.Tokens.Cache.Read, &u.Tokens.Cache.Write, &u.Cost)
	if err != nil {
		return fmt.Errorf("sum usage: %w", err)
	}

	sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT data FROM session WHERE id = ?`, sessionID))
	if err != nil {
		return err
	}
	sess.Usage = u
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE session SET data = ? WHERE id = ?`, string(data), sessionID)
	return err
}

func (s *SQLiteStore) GetMessage(ctx context.Context, sessionID, messageID string) (*types.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT data FROM message WHERE id = ? AND session_id = ?`, messageID, sessionID))
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM message WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) AppendPart(ctx context.Context, p types.Part) error {
	b := p.Base()
	return s.write(ctx, b.SessionID, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM message WHERE id = ? AND session_id = ?`, b.MessageID, b.SessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %s: %w", b.MessageID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM part WHERE id = ?`, b.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("part %s: %w", b.ID, ErrExists)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		seq, err := nextSeqTx(ctx, tx, b.SessionID)
		if err != nil {
			return err
		}
		b.Seq = seq
		data, err := types.MarshalPart(p)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO part (id, message_id, session_id, seq, type, data) VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, b.MessageID, b.SessionID, b.Seq, string(p.PartType()), string(data))
		return err
	})
}

func scanPart(row interface{ Scan(...any) error }) (types.Part, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return types.UnmarshalPart([]byte(data))
}

func (s *SQLiteStore) UpdatePart(ctx context.Context, p types.Part) error {
	b := p.Base()
	return s.write(ctx, b.SessionID, func(tx *sql.Tx) error {
		prev, err := scanPart(tx.QueryRowContext(ctx, `SELECT data FROM part WHERE id = ?`, b.ID))
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
		_, err = tx.ExecContext(ctx, `UPDATE part SET data = ? WHERE id = ?`, string(data), b.ID)
		return err
	})
}

func (s *SQLiteStore) ListParts(ctx context.Context, messageID string) ([]types.Part, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM part WHERE message_id = ? ORDER BY seq`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []types.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}
