// Package calllog persists per-call summaries to PostgreSQL. The log is
// optional: an empty DSN disables it and every method on a nil *Store is a
// no-op, so callers never branch on whether logging is configured.
package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the call_log table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS call_log (
    call_id       TEXT PRIMARY KEY,
    caller_name   TEXT NOT NULL DEFAULT '',
    caller_number TEXT NOT NULL DEFAULT '',
    context       TEXT NOT NULL DEFAULT '',
    provider      TEXT NOT NULL DEFAULT '',
    end_reason    TEXT NOT NULL DEFAULT '',
    duration_ms   BIGINT NOT NULL DEFAULT 0,
    transcript    TEXT NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_call_log_started_at ON call_log(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_call_log_caller_number ON call_log(caller_number);
`

// Record is one completed call.
type Record struct {
	CallID       string
	CallerName   string
	CallerNumber string
	Context      string
	Provider     string
	EndReason    string
	Duration     time.Duration
	Transcript   string
	StartedAt    time.Time
}

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes call records to PostgreSQL. A nil *Store is valid and drops
// every record.
type Store struct {
	db    DB
	close func()
}

// New creates a [Store] over an existing connection or pool. The caller is
// responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at dsn and returns a migrated store. An
// empty dsn returns a nil store, which disables call logging.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: connect: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying pool when the store owns one.
func (s *Store) Close() {
	if s == nil || s.close == nil {
		return
	}
	s.close()
}

// Migrate executes the [Schema] DDL, creating the call_log table and indexes
// if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("calllog: migrate: %w", err)
	}
	return nil
}

// Save upserts one call record. Saving the same call twice keeps the latest
// row, so a crash between summary and teardown cannot duplicate entries.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if s == nil {
		return nil
	}
	if rec.CallID == "" {
		return fmt.Errorf("calllog: save: empty call id")
	}
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	const query = `
		INSERT INTO call_log (
			call_id, caller_name, caller_number, context, provider,
			end_reason, duration_ms, transcript, started_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (call_id) DO UPDATE SET
			end_reason = EXCLUDED.end_reason,
			duration_ms = EXCLUDED.duration_ms,
			transcript = EXCLUDED.transcript`

	_, err := s.db.Exec(ctx, query,
		rec.CallID, rec.CallerName, rec.CallerNumber, rec.Context, rec.Provider,
		rec.EndReason, rec.Duration.Milliseconds(), rec.Transcript, startedAt,
	)
	if err != nil {
		return fmt.Errorf("calllog: save %s: %w", rec.CallID, err)
	}
	return nil
}

// Recent returns the most recent calls, newest first. limit <= 0 defaults
// to 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT call_id, caller_name, caller_number, context, provider,
		       end_reason, duration_ms, transcript, started_at
		FROM call_log
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("calllog: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			durationMS int64
		)
		if err := rows.Scan(&rec.CallID, &rec.CallerName, &rec.CallerNumber,
			&rec.Context, &rec.Provider, &rec.EndReason,
			&durationMS, &rec.Transcript, &rec.StartedAt); err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: recent: %w", err)
	}
	return out, nil
}
