// Package archive provides the SQLite-backed conversation archive used by
// the HTTP façade. Unlike the single-record snapshot store, the archive
// keeps every conversation keyed by UUID so the API can list, fetch and
// delete past conversations.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dpapantzikos/cvchat/internal/chat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("archive: conversation not found")

// Summary is the lightweight listing form of a conversation.
type Summary struct {
	ID           string        `json:"conversationId"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	MessageCount int           `json:"messageCount"`
	LastMessage  *chat.Message `json:"lastMessage,omitempty"`
}

// Store wraps the SQLite connection holding the conversation archive.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs all pending
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Append adds messages to the conversation, creating it on first use.
func (s *Store) Append(ctx context.Context, conversationID string, msgs ...chat.Message) error {
	if conversationID == "" {
		return errors.New("archive: conversation id is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		conversationID, now, now,
	)
	if err != nil {
		return fmt.Errorf("archive: upsert conversation: %w", err)
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM conversation_messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("archive: next seq: %w", err)
	}

	for _, m := range msgs {
		seq++
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_messages
				(conversation_id, seq, id, role, content, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			conversationID, seq, m.ID, string(m.Role), m.Content,
			m.Timestamp.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("archive: insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Messages returns the full transcript of a conversation in insertion
// order. Returns ErrNotFound when the conversation does not exist.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE id = ?`, conversationID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("archive: check conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, timestamp
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: query messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m     chat.Message
			role  string
			tsRaw string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &tsRaw); err != nil {
			return nil, fmt.Errorf("archive: scan message: %w", err)
		}
		m.Role = chat.Role(role)
		if ts, err := time.Parse(time.RFC3339, tsRaw); err == nil {
			m.Timestamp = ts
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate messages: %w", err)
	}
	return msgs, nil
}

// List returns summaries of the most recently updated conversations, newest
// first, each carrying its final message as a preview.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.updated_at,
		       (SELECT COUNT(1) FROM conversation_messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			sum       Summary
			updatedAt string
		)
		if err := rows.Scan(&sum.ID, &updatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("archive: scan summary: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			sum.UpdatedAt = ts
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate summaries: %w", err)
	}

	for i := range summaries {
		last, err := s.lastMessage(ctx, summaries[i].ID)
		if err == nil && last != nil {
			summaries[i].LastMessage = last
		}
	}
	return summaries, nil
}

// Delete removes a conversation and its messages. Returns ErrNotFound when
// the conversation does not exist.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, conversationID,
	)
	if err != nil {
		return fmt.Errorf("archive: delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// lastMessage fetches the final message of a conversation, or nil when the
// conversation has no messages yet.
func (s *Store) lastMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	var (
		m     chat.Message
		role  string
		tsRaw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, role, content, timestamp
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT 1`,
		conversationID,
	).Scan(&m.ID, &role, &m.Content, &tsRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Role = chat.Role(role)
	if ts, err := time.Parse(time.RFC3339, tsRaw); err == nil {
		m.Timestamp = ts
	}
	return &m, nil
}

// runMigrations applies any SQL files not yet recorded in schema_migrations.
func (s *Store) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	_ = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			version, description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", e.Name(), err)
		}
	}
	return nil
}
