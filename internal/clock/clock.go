// Package clock abstracts wall-clock access so staleness sweeps and
// timestamps are testable without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Production code uses System; tests use
// Fake to move time forward deterministically.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}

// Fake is a settable clock for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock pinned to the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to a specific instant.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
