// Package store persists session metadata and input history in SQLite,
// so a restarted client can list prior sessions and recall their input
// history. The live connection state is never persisted; it is owned by
// the in-memory registry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle.
type Store struct {
	conn *sql.DB
}

// SessionRecord is one persisted session row.
type SessionRecord struct {
	ID        string
	Name      string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database at %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if err := runMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Store{conn: conn}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// RecordSession inserts a new session row.
func (s *Store) RecordSession(ctx context.Context, id, name string, createdAt time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("store: record session %q: %w", id, err)
	}
	return nil
}

// RenameSession updates the display name.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sessions SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("store: rename session %q: %w", id, err)
	}
	return nil
}

// MarkClosed stamps the session's close time.
func (s *Store) MarkClosed(ctx context.Context, id string, closedAt time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ? WHERE id = ?`, closedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("store: mark session %q closed: %w", id, err)
	}
	return nil
}

// AppendInput records one submitted input line for a session.
func (s *Store) AppendInput(ctx context.Context, sessionID, line string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO input_history (session_id, line, submitted_at) VALUES (?, ?, ?)`,
		sessionID, line, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: append input for %q: %w", sessionID, err)
	}
	return nil
}

// History returns up to limit input lines for a session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT line FROM (
			SELECT seq, line FROM input_history
			WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: load history for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("store: scan history row: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// RecentSessions lists persisted sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, created_at, closed_at FROM sessions
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var closedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			rec.ClosedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
