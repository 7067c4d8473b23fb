// Package coordinator runs the sync event loop.
//
// It owns the online/offline belief, listens for connectivity changes,
// visibility signals, protocol messages and the periodic tick, and
// translates them into drain, reconcile and cache work via a pure
// transition function.
package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wingmanhq/offline-sync/internal/netstate"
	"github.com/wingmanhq/offline-sync/internal/processor"
	"github.com/wingmanhq/offline-sync/internal/reconcile"
)

// Drainer runs one queue drain pass.
type Drainer interface {
	Process(ctx context.Context) (processor.Summary, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Outcome, int, error)
}

// CacheControl is the slice of the cache layer the coordinator drives.
type CacheControl interface {
	Precache(ctx context.Context, urls []string) error
	Activate(ctx context.Context) error
}

// Broadcaster delivers protocol messages to connected clients.
type Broadcaster interface {
	Broadcast(m Message)
}

// NopBroadcaster drops every message.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(Message) {}

// WakeRegistrar opts in to platform background wake-ups. Platforms
// without the capability return an error, which the coordinator treats
// as a silent downgrade: the periodic tick still runs while the process
// is alive.
type WakeRegistrar interface {
	RegisterWake(ctx context.Context) error
}

// NoWake never registers anything.
type NoWake struct{}

func (NoWake) RegisterWake(context.Context) error { return nil }

// PlatformWake asks the host platform for background wake-ups. No
// supported platform is wired up yet, so registration always reports
// the capability as unavailable and the loop keeps its foreground tick.
type PlatformWake struct{}

func (PlatformWake) RegisterWake(context.Context) error {
	return errors.New("background wake: no platform capability available")
}

// Prober answers whether the server is reachable again. A nil error
// restores the online belief.
type Prober interface {
	Probe(ctx context.Context) error
}

// Coordinator is the sync event loop.
type Coordinator struct {
	tracker   *netstate.Tracker
	drain     Drainer
	reconcile Reconciler
	cache     CacheControl
	bus       Broadcaster
	wake      WakeRegistrar
	probe     Prober
	tick      time.Duration
	log       *slog.Logger

	mu     sync.Mutex
	state  State
	events chan Event
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWake opts in to background wake registration.
func WithWake(w WakeRegistrar) Option {
	return func(c *Coordinator) { c.wake = w }
}

// WithTick overrides the drain cadence.
func WithTick(d time.Duration) Option {
	return func(c *Coordinator) { c.tick = d }
}

// WithProbe installs a reachability check used to recover from the
// offline state. Without one, offline ticks stay no-ops and recovery
// needs an external ConnectivityChanged event.
func WithProbe(p Prober) Option {
	return func(c *Coordinator) { c.probe = p }
}

func New(tracker *netstate.Tracker, drain Drainer, rec Reconciler, cache CacheControl, bus Broadcaster, log *slog.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if bus == nil {
		bus = NopBroadcaster{}
	}
	c := &Coordinator{
		tracker:   tracker,
		drain:     drain,
		reconcile: rec,
		cache:     cache,
		bus:       bus,
		wake:      NoWake{},
		tick:      time.Minute,
		log:       log,
		state:     State{Online: tracker.Online()},
		events:    make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify delivers an event to the loop. Events are dropped when the
// loop's buffer is full rather than blocking the caller; every event
// kind is either idempotent or re-derived on the next tick.
func (c *Coordinator) Notify(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn("event dropped, loop backlogged", "event", eventName(e))
	}
}

// Run drives the loop until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.wake.RegisterWake(ctx); err != nil {
		// Downgrade silently: foreground ticks still cover the cadence.
		c.log.Debug("background wake unavailable", "error", err)
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Dispatch(ctx, Tick{})
		case e := <-c.events:
			c.Dispatch(ctx, e)
		}
	}
}

// Dispatch applies one event and executes its effects synchronously.
// Exposed so callers and tests can drive the loop without Run.
func (c *Coordinator) Dispatch(ctx context.Context, e Event) {
	c.mu.Lock()
	next, effects := Step(c.state, e)
	c.state = next
	c.mu.Unlock()

	if cc, ok := e.(ConnectivityChanged); ok {
		if c.tracker.Set(cc.Online) {
			c.log.Info("connectivity changed", "online", cc.Online)
		}
	}

	for _, effect := range effects {
		c.execute(ctx, effect)
	}
}

func (c *Coordinator) execute(ctx context.Context, effect Effect) {
	switch effect := effect.(type) {
	case EffectDrain:
		sum, err := c.drain.Process(ctx)
		if err != nil {
			c.log.Error("drain pass failed", "error", err)
		}
		c.bus.Broadcast(QueueProcessed(sum.Processed, sum.Failed))
		if sum.Unreachable {
			c.log.Warn("server unreachable, going offline")
			c.Dispatch(ctx, ConnectivityChanged{Online: false})
		}

	case EffectReconcile:
		outcome, cleared, err := c.reconcile.Reconcile(ctx)
		if err != nil {
			c.log.Error("reconcile pass failed", "error", err)
			return
		}
		if outcome == reconcile.OutcomeCleared {
			c.log.Info("reconciled", "outcome", outcome.String(), "cleared", cleared)
		}

	case EffectWarmCache:
		if err := c.cache.Precache(ctx, effect.URLs); err != nil {
			c.log.Warn("cache warm incomplete", "error", err)
		}

	case EffectActivate:
		if err := c.cache.Activate(ctx); err != nil {
			c.log.Error("cache activation failed", "error", err)
		}

	case EffectProbe:
		if c.probe == nil {
			return
		}
		if err := c.probe.Probe(ctx); err != nil {
			c.log.Debug("server still unreachable", "error", err)
			return
		}
		c.Dispatch(ctx, ConnectivityChanged{Online: true})
	}
}

func eventName(e Event) string {
	switch e := e.(type) {
	case ConnectivityChanged:
		if e.Online {
			return "connectivity-online"
		}
		return "connectivity-offline"
	case TabVisible:
		return "tab-visible"
	case MessageReceived:
		return "message:" + e.Message.Type
	case Tick:
		return "tick"
	default:
		return "unknown"
	}
}
