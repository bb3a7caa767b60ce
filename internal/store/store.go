// Package store keeps the question and answer history of each context in a
// SQLite database. The history follows its context: renaming a context moves
// it and deleting a context drops it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a history entry.
type Role string

const (
	// RoleUser is a question.
	RoleUser Role = "user"
	// RoleAssistant is an answer.
	RoleAssistant Role = "assistant"
)

// Message is one history entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Sources lists the files an answer was grounded on. Empty for questions.
	Sources   []string  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore persists Q&A history keyed by context name. Implementations
// must be safe for concurrent use.
type HistoryStore interface {
	// Append persists one entry for contextName.
	Append(ctx context.Context, contextName string, role Role, content string, sources []string) error
	// Recent returns the latest n entries of contextName, oldest first.
	Recent(ctx context.Context, contextName string, n int) ([]Message, error)
	// Forget deletes every entry of contextName.
	Forget(ctx context.Context, contextName string) error
	// Move re-keys every entry of from to to.
	Move(ctx context.Context, from, to string) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// DefaultDBPath returns dataDir/history.db, creating dataDir if needed.
func DefaultDBPath(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dataDir, err)
	}
	return filepath.Join(dataDir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests. A nil logger
// falls back to slog.Default().
func Open(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    context      TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    sources      TEXT    NOT NULL DEFAULT '[]',
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_history_context_created
    ON history (context, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one entry for contextName.
func (s *SQLiteStore) Append(ctx context.Context, contextName string, role Role, content string, sources []string) error {
	if sources == nil {
		sources = []string{}
	}
	src, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("store: encode sources: %w", err)
	}
	const q = `INSERT INTO history (context, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, contextName, string(role), content, string(src), time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries of contextName, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, contextName string, n int) ([]Message, error) {
	const q = `
SELECT role, content, sources, created_at FROM (
    SELECT id, role, content, sources, created_at
    FROM   history
    WHERE  context = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, contextName, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			ts        int64
			role, src string
		)
		if err := rows.Scan(&role, &m.Content, &src, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(src), &m.Sources); err != nil {
			return nil, fmt.Errorf("store: decode sources: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return msgs, nil
}

// Forget deletes the history of contextName.
func (s *SQLiteStore) Forget(ctx context.Context, contextName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE context = ?`, contextName); err != nil {
		return fmt.Errorf("store: forget %q: %w", contextName, err)
	}
	return nil
}

// Move re-keys the history of from to to.
func (s *SQLiteStore) Move(ctx context.Context, from, to string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE history SET context = ? WHERE context = ?`, to, from); err != nil {
		return fmt.Errorf("store: move %q to %q: %w", from, to, err)
	}
	return nil
}

// ContextCleared keeps the history: clearing drops documents, not questions.
func (s *SQLiteStore) ContextCleared(string) {}

// ContextDeleted drops the history of the deleted context.
func (s *SQLiteStore) ContextDeleted(name string) {
	if err := s.Forget(context.Background(), name); err != nil {
		s.log.Warn("store: dropping history failed", slog.String("context", name), slog.Any("error", err))
	}
}

// ContextRenamed moves the history to the new name.
func (s *SQLiteStore) ContextRenamed(from, to string) {
	if err := s.Move(context.Background(), from, to); err != nil {
		s.log.Warn("store: moving history failed",
			slog.String("from", from), slog.String("to", to), slog.Any("error", err))
	}
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
