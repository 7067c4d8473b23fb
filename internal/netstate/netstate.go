// Package netstate tracks whether the device currently believes it is
// online. The coordinator flips the tracker from connectivity events; the
// enqueue path, processor, and reconciler consult it before touching the
// network.
package netstate

import "sync/atomic"

// Connectivity reports the current online/offline belief.
type Connectivity interface {
	Online() bool
}

// Tracker is an atomically updated connectivity flag.
//
// The flag is a belief, not a guarantee: a fetch can still fail while the
// tracker says online. Callers treat fetch failures as the authoritative
// signal and the tracker as a cheap pre-check.
type Tracker struct {
	online atomic.Bool
}

// NewTracker creates a tracker with the given initial state.
func NewTracker(online bool) *Tracker {
	t := &Tracker{}
	t.online.Store(online)
	return t
}

// Online reports the current belief.
func (t *Tracker) Online() bool {
	return t.online.Load()
}

// Set updates the belief. Returns true when the state actually changed,
// so callers can suppress redundant transitions.
func (t *Tracker) Set(online bool) bool {
	return t.online.Swap(online) != online
}
