// Package harness runs declarative conformance scenarios against a
// fully wired sync stack: in-memory queue store, scripted server, fake
// clock and sequential IDs, so every run of a scenario produces the
// same trace. Golden files pin the traces down.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wingmanhq/offline-sync/internal/action"
	"github.com/wingmanhq/offline-sync/internal/api"
	"github.com/wingmanhq/offline-sync/internal/clock"
	"github.com/wingmanhq/offline-sync/internal/coordinator"
	"github.com/wingmanhq/offline-sync/internal/netstate"
	"github.com/wingmanhq/offline-sync/internal/processor"
	"github.com/wingmanhq/offline-sync/internal/queue"
	"github.com/wingmanhq/offline-sync/internal/reconcile"
)

// scenarioEpoch anchors the fake clock so timestamps in traces are
// stable.
var scenarioEpoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// TraceEvent is one observable step outcome.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail,omitempty"`
}

// QueueRow is the final state of one queue entry.
type QueueRow struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Status   string `json:"status"`
	Retries  int    `json:"retries"`
}

// Snapshot is a scenario's full observable outcome.
type Snapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
	Queue    []QueueRow   `json:"queue"`
}

// seqIDs hands out act-0001, act-0002, ... for deterministic traces.
type seqIDs struct{ n int }

func (s *seqIDs) Generate() string {
	s.n++
	return fmt.Sprintf("act-%04d", s.n)
}

// scriptedServer plays the sync API per the scenario's server steps.
// The zero value has everything down, matching a fresh offline device.
type scriptedServer struct {
	batchOK   bool
	processed int
	failed    int

	replay map[string]int

	statusOK   bool
	pending    int
	processing int
}

func (s *scriptedServer) apply(step ServerStep) {
	if step.Batch != "" {
		s.batchOK = step.Batch == "ok"
		s.processed = step.Processed
		s.failed = step.Failed
	}
	if step.Replay != nil {
		s.replay = step.Replay
	}
	if step.Status != "" {
		s.statusOK = step.Status == "ok"
		s.pending = step.Pending
		s.processing = step.Processing
	}
}

func (s *scriptedServer) ProcessAll(context.Context) (api.ProcessResult, error) {
	if !s.batchOK {
		return api.ProcessResult{}, errors.New("batch endpoint down")
	}
	return api.ProcessResult{Success: true, Processed: s.processed, Failed: s.failed}, nil
}

func (s *scriptedServer) Replay(_ context.Context, q action.Queued) (int, error) {
	status, ok := s.replay[q.Endpoint]
	if !ok || status == 0 {
		return 0, errors.New("connection refused")
	}
	return status, nil
}

func (s *scriptedServer) Register(context.Context, action.Queued) error {
	return nil
}

func (s *scriptedServer) Status(context.Context) (api.StatusResult, error) {
	if !s.statusOK {
		return api.StatusResult{}, errors.New("status endpoint down")
	}
	return api.StatusResult{
		Success:    true,
		Total:      s.pending + s.processing,
		Pending:    s.pending,
		Processing: s.processing,
	}, nil
}

// Harness wires the stack for one scenario run.
type Harness struct {
	store   queue.Store
	server  *scriptedServer
	tracker *netstate.Tracker
	clock   *clock.Fake
	enq     *queue.Enqueuer
	coord   *coordinator.Coordinator

	trace []TraceEvent
}

func (h *Harness) record(kind string, detail map[string]any) {
	h.trace = append(h.trace, TraceEvent{Seq: len(h.trace) + 1, Kind: kind, Detail: detail})
}

// Broadcast implements coordinator.Broadcaster, recording announcements.
func (h *Harness) Broadcast(m coordinator.Message) {
	h.record("broadcast", map[string]any{
		"type":      m.Type,
		"processed": m.Processed,
		"failed":    m.Failed,
	})
}

// traceCache implements coordinator.CacheControl by recording the calls;
// scenarios exercise cache orchestration, not storage.
type traceCache struct{ h *Harness }

func (c traceCache) Precache(_ context.Context, urls []string) error {
	c.h.record("cache_warm", map[string]any{"urls": urls})
	return nil
}

func (c traceCache) Activate(context.Context) error {
	c.h.record("cache_activate", nil)
	return nil
}

// Run executes a scenario and returns its snapshot.
func Run(sc *Scenario) (*Snapshot, error) {
	h := &Harness{
		store:   queue.NewMemory(),
		server:  &scriptedServer{},
		tracker: netstate.NewTracker(sc.Online),
		clock:   clock.NewFake(scenarioEpoch),
	}
	h.enq = queue.NewEnqueuer(h.store, h.server, h.tracker, h.clock, &seqIDs{}, nil)
	proc := processor.New(h.store, h.server, h.tracker, h.clock, nil)
	rec := reconcile.New(h.store, h.server, h.tracker, nil)
	h.coord = coordinator.New(h.tracker, proc, rec, traceCache{h}, h, nil)

	ctx := context.Background()
	for i, step := range sc.Steps {
		if err := h.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("harness: %s step %d: %w", sc.Name, i+1, err)
		}
	}

	actions, err := h.store.Actions(ctx)
	if err != nil {
		return nil, fmt.Errorf("harness: %s: final state: %w", sc.Name, err)
	}
	snap := &Snapshot{Scenario: sc.Name, Trace: h.trace, Queue: []QueueRow{}}
	for _, a := range actions {
		snap.Queue = append(snap.Queue, QueueRow{
			ID:       a.ID,
			Action:   a.Action,
			Endpoint: a.Endpoint,
			Method:   a.Method,
			Status:   string(a.Status),
			Retries:  a.Retries,
		})
	}
	return snap, nil
}

func (h *Harness) runStep(ctx context.Context, step Step) error {
	switch {
	case step.Enqueue != nil:
		var payload json.RawMessage
		if step.Enqueue.Payload != "" {
			payload = json.RawMessage(step.Enqueue.Payload)
		}
		res, err := h.enq.Enqueue(ctx, queue.Request{
			Action:   step.Enqueue.Action,
			Endpoint: step.Enqueue.Endpoint,
			Method:   step.Enqueue.Method,
			Payload:  payload,
		})
		if err != nil {
			return err
		}
		h.record("enqueue", map[string]any{
			"outcome":  string(res.Outcome),
			"action":   res.Action.Action,
			"endpoint": res.Action.Endpoint,
		})
		return nil

	case step.Event != "":
		h.record("event", map[string]any{"event": step.Event})
		switch step.Event {
		case "online":
			h.coord.Dispatch(ctx, coordinator.ConnectivityChanged{Online: true})
		case "offline":
			h.coord.Dispatch(ctx, coordinator.ConnectivityChanged{Online: false})
		case "visible":
			h.coord.Dispatch(ctx, coordinator.TabVisible{})
		case "tick":
			h.coord.Dispatch(ctx, coordinator.Tick{})
		}
		return nil

	case step.Message != nil:
		h.record("message", map[string]any{"type": step.Message.Type})
		h.coord.Dispatch(ctx, coordinator.MessageReceived{Message: coordinator.Message{
			Type: step.Message.Type,
			URLs: step.Message.URLs,
		}})
		return nil

	case step.Server != nil:
		h.server.apply(*step.Server)
		return nil

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil
	}
	return errors.New("empty step")
}
