package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wingmanhq/offline-sync/internal/action"
	"github.com/wingmanhq/offline-sync/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial UNIQUE index on actions.fingerprint for pending rows

// SQLite is the durable queue store.
// Uses SQLite with WAL mode for concurrent read access.
type SQLite struct {
	db         *sql.DB
	maxEntries int
}

// SQLiteOption configures the store.
type SQLiteOption func(*SQLite)

// WithMaxEntries overrides the entry cap. Used by tests to exercise
// eviction without appending a hundred rows.
func WithMaxEntries(n int) SQLiteOption {
	return func(s *SQLite) {
		s.maxEntries = n
	}
}

// OpenSQLite creates or opens the queue database at the given path.
// Pragmas and migrations are applied by the storage package; the function
// is idempotent and safe to call repeatedly.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	db, err := storage.Open(path, schemaSQL, migrateQueueToV1)
	if err != nil {
		return nil, err
	}

	s := &SQLite{db: db, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts an action, relying on the partial unique index for
// pending-fingerprint dedup. ON CONFLICT DO NOTHING keeps duplicate
// submissions silent; RowsAffected distinguishes the two outcomes.
func (s *SQLite) Append(ctx context.Context, q action.Queued) (bool, error) {
	fp, err := action.Fingerprint(q.Method, q.Endpoint, q.Payload)
	if err != nil {
		return false, fmt.Errorf("append: %w", err)
	}

	headersJSON, err := marshalHeaders(q.Headers)
	if err != nil {
		return false, fmt.Errorf("append: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO actions
		(id, action, endpoint, method, payload, headers, user_id, fingerprint, timestamp, retries, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) WHERE status = 'pending' DO NOTHING
	`,
		q.ID,
		q.Action,
		q.Endpoint,
		q.Method,
		nullableString(string(q.Payload)),
		headersJSON,
		nullableString(q.UserID),
		fp,
		q.Timestamp.UnixMilli(),
		q.Retries,
		string(q.Status),
	)
	if err != nil {
		return false, fmt.Errorf("append: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Duplicate pending fingerprint - dropped silently
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("append: commit (duplicate): %w", err)
		}
		return false, nil
	}

	// Enforce the cap: keep the most recent maxEntries rows
	_, err = tx.ExecContext(ctx, `
		DELETE FROM actions WHERE seq NOT IN (
			SELECT seq FROM actions ORDER BY seq DESC LIMIT ?
		)
	`, s.maxEntries)
	if err != nil {
		return false, fmt.Errorf("append: enforce cap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("append: commit: %w", err)
	}
	return true, nil
}

// Actions returns every entry in insertion order.
func (s *SQLite) Actions(ctx context.Context) ([]action.Queued, error) {
	return s.query(ctx, `
		SELECT id, action, endpoint, method, payload, headers, user_id, timestamp, retries, status
		FROM actions ORDER BY seq ASC
	`)
}

// Pending returns pending entries in insertion order.
func (s *SQLite) Pending(ctx context.Context) ([]action.Queued, error) {
	return s.query(ctx, `
		SELECT id, action, endpoint, method, payload, headers, user_id, timestamp, retries, status
		FROM actions WHERE status = 'pending' ORDER BY seq ASC
	`)
}

// MarkProcessing transitions an entry to processing.
func (s *SQLite) MarkProcessing(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, action.StatusProcessing)
}

// MarkCompleted transitions an entry to completed.
func (s *SQLite) MarkCompleted(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, action.StatusCompleted)
}

// MarkFailed transitions an entry to failed.
func (s *SQLite) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, action.StatusFailed)
}

// Requeue puts an entry back to pending with retries+1.
func (s *SQLite) Requeue(ctx context.Context, id string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = 'pending', retries = retries + 1 WHERE id = ?
	`, id)
	if err != nil {
		return 0, fmt.Errorf("requeue %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var retries int
	err = s.db.QueryRowContext(ctx, `SELECT retries FROM actions WHERE id = ?`, id).Scan(&retries)
	if err != nil {
		return 0, fmt.Errorf("requeue %s: read retries: %w", id, err)
	}
	return retries, nil
}

// RecoverProcessing resets processing entries back to pending.
func (s *SQLite) RecoverProcessing(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = 'pending' WHERE status = 'processing'
	`)
	if err != nil {
		return 0, fmt.Errorf("recover processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover processing: rows affected: %w", err)
	}
	return int(n), nil
}

// ClearDrained removes completed and processing entries.
func (s *SQLite) ClearDrained(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM actions WHERE status IN ('completed', 'processing')
	`)
	if err != nil {
		return fmt.Errorf("clear drained: %w", err)
	}
	return nil
}

// SweepStale removes completed/failed entries unconditionally and pending
// entries created before cutoff.
func (s *SQLite) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM actions
		WHERE status IN ('completed', 'failed')
		   OR (status = 'pending' AND timestamp < ?)
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep stale: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale: rows affected: %w", err)
	}
	return int(n), nil
}

// ClearAll wipes the queue.
func (s *SQLite) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions`); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	return nil
}

// Counts returns pending/processing totals.
func (s *SQLite) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing')
		FROM actions
	`).Scan(&c.Pending, &c.Processing)
	if err != nil {
		return Counts{}, fmt.Errorf("counts: %w", err)
	}
	return c, nil
}

func (s *SQLite) setStatus(ctx context.Context, id string, status action.Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("set status %s=%s: %w", id, status, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status %s=%s: rows affected: %w", id, status, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]action.Queued, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []action.Queued
	for rows.Next() {
		var (
			a         action.Queued
			payload   sql.NullString
			headers   sql.NullString
			userID    sql.NullString
			status    string
			timestamp int64
		)
		err := rows.Scan(&a.ID, &a.Action, &a.Endpoint, &a.Method, &payload, &headers, &userID, &timestamp, &a.Retries, &status)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if payload.Valid {
			a.Payload = json.RawMessage(payload.String)
		}
		if headers.Valid && headers.String != "" {
			if err := json.Unmarshal([]byte(headers.String), &a.Headers); err != nil {
				return nil, fmt.Errorf("decode headers for %s: %w", a.ID, err)
			}
		}
		a.UserID = userID.String
		a.Timestamp = time.UnixMilli(timestamp).UTC()
		a.Status = action.Status(status)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

func marshalHeaders(h map[string]string) (sql.NullString, error) {
	if len(h) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal headers: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// migrateQueueToV1 adds the partial unique fingerprint index for databases
// created before v1. New databases get it from schema.sql.
func migrateQueueToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_pending_fingerprint
		ON actions(fingerprint) WHERE status = 'pending'
	`)
	if err != nil {
		return fmt.Errorf("migrate queue to v1: %w", err)
	}
	return nil
}
