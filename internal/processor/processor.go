// Package processor drains the mutation queue against the server.
//
// A pass is batch-first: the server is asked to process everything it
// has registered, and on success the locally drained entries are
// cleared. When the batch endpoint is unavailable the pass degrades to
// replaying each pending action locally, in insertion order, with a
// bounded retry budget per entry. Every pass ends with a staleness
// sweep so the store cannot accumulate junk.
package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wingmanhq/offline-sync/internal/action"
	"github.com/wingmanhq/offline-sync/internal/api"
	"github.com/wingmanhq/offline-sync/internal/clock"
	"github.com/wingmanhq/offline-sync/internal/netstate"
	"github.com/wingmanhq/offline-sync/internal/queue"
)

// Decision is the verdict for a replay that did not succeed.
type Decision int

const (
	// DecisionRetry returns the entry to pending with its retry count
	// bumped.
	DecisionRetry Decision = iota
	// DecisionFail marks the entry failed; the retry budget is spent.
	DecisionFail
)

// Decide maps an entry's retry count onto a verdict. The count is the
// number of failed attempts already recorded, so a budget of 3 allows
// counts 0, 1 and 2 to retry.
func Decide(retries, maxRetries int) Decision {
	if retries+1 >= maxRetries {
		return DecisionFail
	}
	return DecisionRetry
}

// Server is the slice of the sync API a pass needs.
type Server interface {
	ProcessAll(ctx context.Context) (api.ProcessResult, error)
	Replay(ctx context.Context, q action.Queued) (int, error)
}

// Summary describes the outcome of one pass.
type Summary struct {
	// Batch is true when the server's batch endpoint did the work.
	Batch     bool
	Processed int
	Failed    int
	Swept     int
	Remaining int
	// Unreachable is true when every exchange in the pass died at the
	// transport level without an HTTP answer. Callers use it to flip
	// their connectivity belief offline.
	Unreachable bool
}

// Processor runs drain passes over a queue store.
type Processor struct {
	store      queue.Store
	server     Server
	net        netstate.Connectivity
	clock      clock.Clock
	log        *slog.Logger
	maxRetries int
	staleAfter time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxRetries overrides the per-entry retry budget.
func WithMaxRetries(n int) Option {
	return func(p *Processor) { p.maxRetries = n }
}

// WithStaleAfter overrides the pending-entry retention window.
func WithStaleAfter(d time.Duration) Option {
	return func(p *Processor) { p.staleAfter = d }
}

func New(store queue.Store, server Server, net netstate.Connectivity, clk clock.Clock, log *slog.Logger, opts ...Option) *Processor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Processor{
		store:      store,
		server:     server,
		net:        net,
		clock:      clk,
		log:        log,
		maxRetries: queue.DefaultMaxRetries,
		staleAfter: queue.DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one drain pass. Offline is a clean no-op: the queue
// holds and a later pass picks it up. The returned Summary is valid
// even when err is non-nil.
func (p *Processor) Process(ctx context.Context) (Summary, error) {
	var sum Summary
	if !p.net.Online() {
		p.log.Debug("skipping drain pass, offline")
		return p.finish(ctx, sum)
	}

	// Entries stranded in processing by a crashed pass go first.
	if n, err := p.store.RecoverProcessing(ctx); err != nil {
		return sum, fmt.Errorf("process: recover: %w", err)
	} else if n > 0 {
		p.log.Info("recovered stranded entries", "count", n)
	}

	result, err := p.server.ProcessAll(ctx)
	if err == nil {
		sum.Batch = true
		sum.Processed = result.Processed
		sum.Failed = result.Failed
		if err := p.store.ClearDrained(ctx); err != nil {
			return sum, fmt.Errorf("process: clear drained: %w", err)
		}
		p.log.Info("batch drain complete", "processed", result.Processed, "failed", result.Failed)
		return p.finish(ctx, sum)
	}
	p.log.Warn("batch drain unavailable, replaying locally", "error", err)

	if err := p.replayAll(ctx, &sum); err != nil {
		return sum, err
	}
	return p.finish(ctx, sum)
}

// replayAll replays every pending entry in insertion order.
func (p *Processor) replayAll(ctx context.Context, sum *Summary) error {
	pending, err := p.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("process: pending: %w", err)
	}

	attempts, answered := 0, 0
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("process: %w", err)
		}
		if err := p.store.MarkProcessing(ctx, entry.ID); err != nil {
			return fmt.Errorf("process: mark processing %s: %w", entry.ID, err)
		}

		status, replayErr := p.server.Replay(ctx, entry)
		attempts++
		if status > 0 {
			answered++
		}
		if replayErr == nil && status >= 200 && status < 300 {
			if err := p.store.MarkCompleted(ctx, entry.ID); err != nil {
				return fmt.Errorf("process: mark completed %s: %w", entry.ID, err)
			}
			sum.Processed++
			continue
		}

		p.log.Warn("replay failed",
			"id", entry.ID, "action", entry.Action,
			"status", status, "retries", entry.Retries, "error", replayErr)

		switch Decide(entry.Retries, p.maxRetries) {
		case DecisionRetry:
			if _, err := p.store.Requeue(ctx, entry.ID); err != nil {
				return fmt.Errorf("process: requeue %s: %w", entry.ID, err)
			}
		case DecisionFail:
			if err := p.store.MarkFailed(ctx, entry.ID); err != nil {
				return fmt.Errorf("process: mark failed %s: %w", entry.ID, err)
			}
			sum.Failed++
			p.log.Error("retry budget spent, dropping action",
				"id", entry.ID, "action", entry.Action)
		}
	}
	sum.Unreachable = attempts > 0 && answered == 0
	return nil
}

// finish sweeps stale and drained entries and records what remains.
func (p *Processor) finish(ctx context.Context, sum Summary) (Summary, error) {
	cutoff := p.clock.Now().Add(-p.staleAfter)
	swept, err := p.store.SweepStale(ctx, cutoff)
	if err != nil {
		return sum, fmt.Errorf("process: sweep: %w", err)
	}
	sum.Swept = swept
	if swept > 0 {
		p.log.Info("swept stale entries", "count", swept)
	}

	counts, err := p.store.Counts(ctx)
	if err != nil {
		return sum, fmt.Errorf("process: counts: %w", err)
	}
	sum.Remaining = counts.Pending
	return sum, nil
}
