// Package queue implements the durable mutation queue: an ordered,
// deduplicated, capacity-bounded store of pending write operations.
//
// Two implementations are provided. SQLite backs the real daemon; Memory
// substitutes in tests and scenario harnesses. Both enforce the same
// invariants:
//
//   - at most one pending entry per (method, endpoint, payload) fingerprint
//   - at most MaxEntries entries, oldest dropped first
//   - completed/failed entries survive only until the next sweep
//   - insertion order is preserved for replay
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/wingmanhq/offline-sync/internal/action"
)

// DefaultMaxEntries caps the queue. The store is a bounded buffer, not an
// unbounded log; beyond the cap the oldest entries are dropped.
const DefaultMaxEntries = 100

// DefaultStaleAfter is how long a pending entry may sit before the
// staleness sweep removes it.
const DefaultStaleAfter = 7 * 24 * time.Hour

// DefaultMaxRetries is the per-entry replay budget. An entry whose
// failed attempts reach the budget is marked failed and swept.
const DefaultMaxRetries = 3

// ErrNotFound is returned when a status transition references an entry
// that no longer exists (e.g. already swept by another tab).
var ErrNotFound = errors.New("queue: action not found")

// Counts aggregates pending/processing totals for status signaling.
// Completed and failed are intentionally absent: once drained they carry
// no actionable meaning.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

// Total is the number of entries that still represent outstanding work.
func (c Counts) Total() int {
	return c.Pending + c.Processing
}

// Store is durable CRUD over queued actions.
//
// Store implementations are single-origin shared state: two processes of
// the same origin may race on Append/Sweep. The fingerprint dedup bounds
// the blast radius and reconciliation corrects any drift; no locking
// across processes is attempted.
type Store interface {
	// Append adds an action to the back of the queue. Returns false
	// without error when an existing pending entry shares the action's
	// fingerprint (duplicate submissions are dropped silently). Enforces
	// the entry cap by evicting the oldest entries.
	Append(ctx context.Context, q action.Queued) (bool, error)

	// Actions returns every entry in insertion order.
	Actions(ctx context.Context) ([]action.Queued, error)

	// Pending returns pending entries in insertion order.
	Pending(ctx context.Context) ([]action.Queued, error)

	// MarkProcessing transitions an entry to processing.
	MarkProcessing(ctx context.Context, id string) error

	// MarkCompleted transitions an entry to completed. The entry stays
	// until the next sweep.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed transitions an entry to failed after the retry budget
	// is exhausted. The entry stays until the next sweep and is never
	// retried again.
	MarkFailed(ctx context.Context, id string) error

	// Requeue puts a processing entry back to pending with retries+1
	// and returns the new retry count.
	Requeue(ctx context.Context, id string) (int, error)

	// RecoverProcessing resets entries stuck in processing back to
	// pending. Run at startup: processing must not survive a restart
	// unreconciled.
	RecoverProcessing(ctx context.Context) (int, error)

	// ClearDrained removes completed and processing entries. Used after
	// a successful server batch drain, which is authoritative for both.
	ClearDrained(ctx context.Context) error

	// SweepStale removes completed/failed entries unconditionally and
	// pending entries created before cutoff. Returns how many entries
	// were removed.
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)

	// ClearAll wipes the queue. Used when reconciliation decides the
	// entire local queue is stale.
	ClearAll(ctx context.Context) error

	// Counts returns pending/processing totals.
	Counts(ctx context.Context) (Counts, error)

	// Close releases the store's resources.
	Close() error
}
