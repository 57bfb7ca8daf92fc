// Package archive keeps a local SQLite log of prompt/reply exchanges.
// It is write-mostly and never feeds history back into the gateway.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Exchange is one ask_llm round trip.
type Exchange struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id,omitempty"`
	Prompt       string    `json:"prompt"`
	Reply        string    `json:"reply"`
	Error        string    `json:"error,omitempty"`
	HistoryTurns int       `json:"history_turns"`
	LatencyMS    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is a SQLite-backed exchange log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			prompt TEXT NOT NULL,
			reply TEXT NOT NULL,
			error TEXT,
			history_turns INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_request ON exchanges(request_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Record stores e under a fresh ID, stamping CreatedAt when unset.
// RequestID is kept as given and need not be unique. The stored exchange is
// returned.
func (s *Store) Record(ctx context.Context, e Exchange) (Exchange, error) {
	e.ID = uuid.NewString()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, request_id, prompt, reply, error, history_turns, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.RequestID), e.Prompt, e.Reply, nullString(e.Error), e.HistoryTurns, e.LatencyMS, e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("record exchange: %w", err)
	}
	return e, nil
}

// Recent returns up to limit exchanges, newest first. limit <= 0 returns all.
func (s *Store) Recent(ctx context.Context, limit int) ([]Exchange, error) {
	query := `SELECT id, request_id, prompt, reply, error, history_turns, latency_ms, created_at
		FROM exchanges ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	exchanges := []Exchange{}
	for rows.Next() {
		var e Exchange
		var requestID, errText sql.NullString
		if err := rows.Scan(&e.ID, &requestID, &e.Prompt, &e.Reply, &errText, &e.HistoryTurns, &e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		e.RequestID = requestID.String
		e.Error = errText.String
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
