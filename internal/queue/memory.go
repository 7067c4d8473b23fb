package queue

import (
	"context"
	"sync"
	"time"

	"github.com/wingmanhq/offline-sync/internal/action"
)

// Memory is an in-memory Store with the same semantics as SQLite.
// Used by tests and the scenario harness; also a reasonable choice for
// ephemeral runs where durability across restarts is not wanted.
type Memory struct {
	mu         sync.Mutex
	actions    []action.Queued
	maxEntries int
}

// NewMemory creates an empty in-memory store with the default cap.
func NewMemory() *Memory {
	return &Memory{maxEntries: DefaultMaxEntries}
}

// NewMemoryWithCap creates an in-memory store with a custom entry cap.
func NewMemoryWithCap(n int) *Memory {
	return &Memory{maxEntries: n}
}

// Append adds an action unless a pending entry shares its fingerprint.
func (m *Memory) Append(_ context.Context, q action.Queued) (bool, error) {
	fp, err := action.Fingerprint(q.Method, q.Endpoint, q.Payload)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.actions {
		if existing.Status != action.StatusPending {
			continue
		}
		existingFP, err := action.Fingerprint(existing.Method, existing.Endpoint, existing.Payload)
		if err != nil {
			return false, err
		}
		if existingFP == fp {
			return false, nil
		}
	}

	m.actions = append(m.actions, q)
	if excess := len(m.actions) - m.maxEntries; excess > 0 {
		m.actions = append([]action.Queued(nil), m.actions[excess:]...)
	}
	return true, nil
}

// Actions returns every entry in insertion order.
func (m *Memory) Actions(context.Context) ([]action.Queued, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]action.Queued(nil), m.actions...), nil
}

// Pending returns pending entries in insertion order.
func (m *Memory) Pending(context.Context) ([]action.Queued, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []action.Queued
	for _, a := range m.actions {
		if a.Status == action.StatusPending {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// MarkProcessing transitions an entry to processing.
func (m *Memory) MarkProcessing(_ context.Context, id string) error {
	return m.setStatus(id, action.StatusProcessing)
}

// MarkCompleted transitions an entry to completed.
func (m *Memory) MarkCompleted(_ context.Context, id string) error {
	return m.setStatus(id, action.StatusCompleted)
}

// MarkFailed transitions an entry to failed.
func (m *Memory) MarkFailed(_ context.Context, id string) error {
	return m.setStatus(id, action.StatusFailed)
}

// Requeue puts an entry back to pending with retries+1.
func (m *Memory) Requeue(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.actions {
		if m.actions[i].ID == id {
			m.actions[i].Status = action.StatusPending
			m.actions[i].Retries++
			return m.actions[i].Retries, nil
		}
	}
	return 0, ErrNotFound
}

// RecoverProcessing resets processing entries back to pending.
func (m *Memory) RecoverProcessing(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recovered := 0
	for i := range m.actions {
		if m.actions[i].Status == action.StatusProcessing {
			m.actions[i].Status = action.StatusPending
			recovered++
		}
	}
	return recovered, nil
}

// ClearDrained removes completed and processing entries.
func (m *Memory) ClearDrained(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = filterActions(m.actions, func(a action.Queued) bool {
		return a.Status != action.StatusCompleted && a.Status != action.StatusProcessing
	})
	return nil
}

// SweepStale removes completed/failed entries and stale pending entries.
func (m *Memory) SweepStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.actions)
	m.actions = filterActions(m.actions, func(a action.Queued) bool {
		if a.Status == action.StatusCompleted || a.Status == action.StatusFailed {
			return false
		}
		if a.Status == action.StatusPending && a.Timestamp.Before(cutoff) {
			return false
		}
		return true
	})
	return before - len(m.actions), nil
}

// ClearAll wipes the queue.
func (m *Memory) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = nil
	return nil
}

// Counts returns pending/processing totals.
func (m *Memory) Counts(context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	for _, a := range m.actions {
		switch a.Status {
		case action.StatusPending:
			c.Pending++
		case action.StatusProcessing:
			c.Processing++
		}
	}
	return c, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) setStatus(id string, status action.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.actions {
		if m.actions[i].ID == id {
			m.actions[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func filterActions(actions []action.Queued, keep func(action.Queued) bool) []action.Queued {
	out := actions[:0]
	for _, a := range actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
