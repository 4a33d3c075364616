// Package history persists chat sessions and messages in SQLite. Saving a
// message is the write event that drives cache invalidation; session stats
// and history search are the producers behind the cached read paths. It
// also stores pruned usage-bucket snapshots.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gatewayz/internal/domain"
	"gatewayz/internal/usage"
)

// Store implements the chat-history persistence on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role        TEXT NOT NULL,
		content     TEXT,
		model       TEXT,
		tokens_in   INTEGER DEFAULT 0,
		tokens_out  INTEGER DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS usage_snapshots (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		bucket      TEXT NOT NULL,
		kind        TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		requests    INTEGER NOT NULL,
		successes   INTEGER NOT NULL,
		latency_ms  INTEGER NOT NULL,
		tokens_in   INTEGER NOT NULL,
		tokens_out  INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_row ON usage_snapshots(bucket, kind, entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveMessage appends one message to a session's history and returns its
// row ID. The session row is created on first write.
func (s *Store) SaveMessage(ctx context.Context, msg domain.ChatMessage) (int64, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		msg.SessionID, msg.CreatedAt, msg.CreatedAt,
	); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, model, tokens_in, tokens_out, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, msg.Model, msg.TokensIn, msg.TokensOut, msg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// Messages returns a session's most recent messages in chronological order.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, model, tokens_in, tokens_out, created_at
		 FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SessionStats aggregates one session's history. Returns domain.ErrNoData
// for a session with no messages.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (*domain.SessionStats, error) {
	var st domain.SessionStats
	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(tokens_in), 0),
		        COALESCE(SUM(tokens_out), 0),
		        MIN(created_at), MAX(created_at)
		 FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&st.MessageCount, &st.UserCount, &st.TokensIn, &st.TokensOut, &first, &last)
	if err != nil {
		return nil, err
	}
	if st.MessageCount == 0 {
		return nil, domain.ErrNoData
	}
	st.SessionID = sessionID
	if first.Valid {
		st.FirstAt = first.Time
	}
	if last.Valid {
		st.LastAt = last.Time
	}
	return &st, nil
}

// SearchMessages finds messages in a session whose content contains the
// query, newest first.
func (s *Store) SearchMessages(ctx context.Context, sessionID, query string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, model, tokens_in, tokens_out, created_at
		 FROM messages
		 WHERE session_id = ? AND content LIKE ? ESCAPE '\'
		 ORDER BY id DESC LIMIT ?`, sessionID, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SaveUsageSnapshot persists pruned usage-bucket rows. Implements
// usage.SnapshotSink.
func (s *Store) SaveUsageSnapshot(ctx context.Context, snapshot []usage.SnapshotRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, row := range snapshot {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO usage_snapshots (bucket, kind, entity_id, requests, successes, latency_ms, tokens_in, tokens_out)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(bucket, kind, entity_id) DO UPDATE SET
				requests = excluded.requests,
				successes = excluded.successes,
				latency_ms = excluded.latency_ms,
				tokens_in = excluded.tokens_in,
				tokens_out = excluded.tokens_out`,
			row.Bucket, row.Kind, row.ID, row.Requests, row.Successes, row.LatencyMs, row.TokensIn, row.TokensOut,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Prune deletes messages older than the retention window and any sessions
// left empty by it.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id NOT IN (SELECT DISTINCT session_id FROM messages)`,
	); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Model, &m.TokensIn, &m.TokensOut, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
