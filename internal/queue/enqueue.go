package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/wingmanhq/offline-sync/internal/action"
	"github.com/wingmanhq/offline-sync/internal/clock"
	"github.com/wingmanhq/offline-sync/internal/netstate"
)

// Outcome is what happened to a submitted mutation. All three are
// successes from the caller's point of view: the user-visible behavior is
// optimistic and the offline case never surfaces as an error.
type Outcome string

const (
	// OutcomeSent means the mutation was delivered directly, no durable
	// record was created.
	OutcomeSent Outcome = "sent"
	// OutcomeQueued means the mutation is durably queued for replay.
	OutcomeQueued Outcome = "queued"
	// OutcomeDeduplicated means an identical pending mutation already
	// exists; the submission was dropped silently.
	OutcomeDeduplicated Outcome = "deduplicated"
)

// Result is the resolved outcome of Enqueue.
type Result struct {
	Outcome Outcome
	Action  action.Queued
}

// Request is a mutation submission.
type Request struct {
	// Action is the logical tag (create_post, like_post, ...). Inferred
	// from the endpoint when empty.
	Action   string
	Endpoint string
	Method   string
	Payload  json.RawMessage
	Headers  map[string]string
	UserID   string
}

// Sender is the network surface Enqueue needs: a direct attempt and the
// best-effort server-side registration. Satisfied by api.Client.
type Sender interface {
	Replay(ctx context.Context, q action.Queued) (int, error)
	Register(ctx context.Context, q action.Queued) error
}

// Enqueuer is the write interceptor. Online submissions are attempted
// directly first; failures and offline submissions fall back to the
// durable store.
type Enqueuer struct {
	store  Store
	sender Sender
	net    netstate.Connectivity
	clock  clock.Clock
	ids    action.IDGenerator
	log    *slog.Logger
}

// NewEnqueuer wires the interceptor. A nil logger discards output.
func NewEnqueuer(store Store, sender Sender, net netstate.Connectivity, clk clock.Clock, ids action.IDGenerator, log *slog.Logger) *Enqueuer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Enqueuer{store: store, sender: sender, net: net, clock: clk, ids: ids, log: log}
}

// Enqueue submits a mutation.
//
// Online: a direct attempt is made first; a 2xx response resolves to
// OutcomeSent with no durable record. On network failure, a non-2xx
// response, or offline, the mutation is appended to the durable queue
// (deduplicated by fingerprint against pending entries) and, when online,
// registered with the server's tracking endpoint as fire-and-forget.
//
// The error return covers only invalid submissions (non-queueable method,
// malformed payload) and store failures - never connectivity.
func (e *Enqueuer) Enqueue(ctx context.Context, req Request) (Result, error) {
	if !action.Queueable(req.Method) {
		return Result{}, fmt.Errorf("enqueue: method %q is not queueable", req.Method)
	}
	// Multipart bodies cannot be replayed from a stored JSON payload.
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Content-Type") && strings.HasPrefix(v, "multipart/") {
			return Result{}, fmt.Errorf("enqueue: multipart payloads are not queueable")
		}
	}

	tag := req.Action
	if tag == "" {
		tag = action.Infer(req.Method, req.Endpoint)
	}

	q := action.Queued{
		ID:        e.ids.Generate(),
		Action:    tag,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		Payload:   req.Payload,
		Headers:   req.Headers,
		UserID:    req.UserID,
		Timestamp: e.clock.Now(),
		Status:    action.StatusPending,
	}

	if e.net.Online() {
		status, err := e.sender.Replay(ctx, q)
		if err == nil && status >= 200 && status <= 299 {
			q.Status = action.StatusCompleted
			return Result{Outcome: OutcomeSent, Action: q}, nil
		}
		if err != nil {
			e.log.Debug("direct send failed, queueing", "action", q.Action, "error", err)
		} else {
			e.log.Debug("direct send rejected, queueing", "action", q.Action, "status", status)
		}
	}

	appended, err := e.store.Append(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("enqueue: %w", err)
	}
	if !appended {
		e.log.Debug("duplicate action dropped", "action", q.Action, "endpoint", q.Endpoint)
		return Result{Outcome: OutcomeDeduplicated, Action: q}, nil
	}

	// Best-effort server-side tracking; the action is already durable
	// locally so a failure here is only logged.
	if e.net.Online() {
		if err := e.sender.Register(ctx, q); err != nil {
			e.log.Warn("failed to register action with server queue", "id", q.ID, "error", err)
		}
	}

	e.log.Info("action queued", "id", q.ID, "action", q.Action)
	return Result{Outcome: OutcomeQueued, Action: q}, nil
}
