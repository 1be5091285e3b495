// Package audit provides an append-only record of every Broker Gateway RPC
// call, for after-the-fact reconstruction of what was sent to the broker
// and when. It is bookkeeping about calls already in scope, not a new
// historical-data feature.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Entry is one recorded Broker Gateway RPC call.
type Entry struct {
	TraceID   string
	Operation string
	Account   string
	Success   bool
	ErrorCode string
}

// Log wraps a SQLite-backed append-only audit trail.
type Log struct {
	db *sqlx.DB
}

// Open connects to (creating if absent) the SQLite database at path and
// ensures its schema is current.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("audit log opened")
	return l, nil
}

func (l *Log) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rpc_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		account TEXT,
		success BOOLEAN NOT NULL,
		error_code TEXT,
		occurred_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rpc_calls_trace_id ON rpc_calls(trace_id);
	CREATE INDEX IF NOT EXISTS idx_rpc_calls_occurred_at ON rpc_calls(occurred_at);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record inserts one audit entry synchronously, on the caller's goroutine.
// Callers treat a Record failure as log-and-continue, not as a reason to
// fail the RPC call itself.
func (l *Log) Record(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO rpc_calls (trace_id, operation, account, success, error_code, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.Operation, e.Account, e.Success, e.ErrorCode, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}
