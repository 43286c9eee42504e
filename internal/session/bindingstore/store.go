// Package bindingstore persists the provider session token each CLI-bridged
// agent reports, so the next turn for the same chat can resume it.
package bindingstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Binding links a chat to a provider-native session.
type Binding struct {
	ChatID    string    `json:"chat_id"`
	Agent     string    `json:"agent"`
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cli_bindings (
	chat_id TEXT NOT NULL,
	agent TEXT NOT NULL,
	token TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (chat_id, agent)
);
`

// Store is a SQLite-backed binding table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the binding database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create binding dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open binding db: %w", err)
	}
	// One connection keeps an in-memory database shared and serializes writers.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping binding db: %w", err)
	}
	if path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL on binding db: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on binding db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply binding schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close binding db: %w", err)
	}
	return nil
}

// Get returns the binding for chatID and agent.
func (s *Store) Get(ctx context.Context, chatID, agent string) (Binding, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, agent, token, updated_at FROM cli_bindings WHERE chat_id = ? AND agent = ?`,
		chatID, agent)

	var (
		b       Binding
		updated string
	)
	if err := row.Scan(&b.ChatID, &b.Agent, &b.Token, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Binding{}, false, nil
		}
		return Binding{}, false, fmt.Errorf("get binding %s/%s: %w", chatID, agent, err)
	}
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return b, true, nil
}

// Put upserts a binding.
func (s *Store) Put(ctx context.Context, b Binding) error {
	if strings.TrimSpace(b.ChatID) == "" || strings.TrimSpace(b.Agent) == "" || strings.TrimSpace(b.Token) == "" {
		return fmt.Errorf("binding requires chat id, agent and token")
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cli_bindings (chat_id, agent, token, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(chat_id, agent) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		b.ChatID, b.Agent, b.Token, b.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put binding %s/%s: %w", b.ChatID, b.Agent, err)
	}
	return nil
}

// Delete removes a binding, e.g. when the provider rejects a stale token.
func (s *Store) Delete(ctx context.Context, chatID, agent string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cli_bindings WHERE chat_id = ? AND agent = ?`, chatID, agent); err != nil {
		return fmt.Errorf("delete binding %s/%s: %w", chatID, agent, err)
	}
	return nil
}
