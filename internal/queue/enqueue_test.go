package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingmanhq/offline-sync/internal/action"
	"github.com/wingmanhq/offline-sync/internal/clock"
	"github.com/wingmanhq/offline-sync/internal/netstate"
)

type fakeSender struct {
	replayStatus int
	replayErr    error
	replayed     []action.Queued
	registered   []action.Queued
	registerErr  error
}

func (f *fakeSender) Replay(_ context.Context, q action.Queued) (int, error) {
	f.replayed = append(f.replayed, q)
	return f.replayStatus, f.replayErr
}

func (f *fakeSender) Register(_ context.Context, q action.Queued) error {
	f.registered = append(f.registered, q)
	return f.registerErr
}

func newTestEnqueuer(store Store, sender Sender, online bool, ids ...string) *Enqueuer {
	return NewEnqueuer(
		store,
		sender,
		netstate.NewTracker(online),
		clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		action.NewFixedGenerator(ids...),
		nil,
	)
}

func likeRequest() Request {
	return Request{
		Endpoint: "/api/public/forum-posts/42/like",
		Method:   "POST",
		Payload:  json.RawMessage(`{"userId":"u1"}`),
		UserID:   "u1",
	}
}

func TestEnqueue_OnlineDirectSend(t *testing.T) {
	store := NewMemory()
	sender := &fakeSender{replayStatus: http.StatusOK}
	e := newTestEnqueuer(store, sender, true, "a-1")

	result, err := e.Enqueue(context.Background(), likeRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, "like_post", result.Action.Action, "tag inferred from endpoint")

	got, err := store.Actions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got, "direct success leaves no durable record")
}

func TestEnqueue_OfflineQueuesWithoutNetworkAttempt(t *testing.T) {
	store := NewMemory()
	sender := &fakeSender{}
	e := newTestEnqueuer(store, sender, false, "a-1")

	result, err := e.Enqueue(context.Background(), likeRequest())
	require.NoError(t, err, "offline is never an error for the caller")

	assert.Equal(t, OutcomeQueued, result.Outcome)
	assert.Empty(t, sender.replayed, "no direct attempt while offline")
	assert.Empty(t, sender.registered, "no server registration while offline")

	got, err := store.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, action.StatusPending, got[0].Status)
}

func TestEnqueue_NetworkFailureFallsBackToQueue(t *testing.T) {
	store := NewMemory()
	sender := &fakeSender{replayErr: errors.New("connection refused")}
	e := newTestEnqueuer(store, sender, true, "a-1")

	result, err := e.Enqueue(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, result.Outcome)

	// action was durable before registration; registration is best-effort
	require.Len(t, sender.registered, 1)
	assert.Equal(t, "a-1", sender.registered[0].ID)
}

func TestEnqueue_ServerRejectionQueues(t *testing.T) {
	store := NewMemory()
	sender := &fakeSender{replayStatus: http.StatusBadGateway}
	e := newTestEnqueuer(store, sender, true, "a-1")

	result, err := e.Enqueue(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, result.Outcome)
}

func TestEnqueue_RegistrationFailureIsNonFatal(t *testing.T) {
	store := NewMemory()
	sender := &fakeSender{replayErr: errors.New("down"), registerErr: errors.New("also down")}
	e := newTestEnqueuer(store, sender, true, "a-1")

	result, err := e.Enqueue(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, result.Outcome)

	got, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEnqueue_DuplicateDroppedSilently(t *testing.T) {
	store := NewMemory()
	sender := &fakeSender{}
	e := newTestEnqueuer(store, sender, false, "a-1", "a-2")

	first, err := e.Enqueue(context.Background(), likeRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, first.Outcome)

	second, err := e.Enqueue(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeduplicated, second.Outcome)

	got, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1, "only one pending entry per fingerprint")
}

func TestEnqueue_RejectsNonQueueableMethod(t *testing.T) {
	e := newTestEnqueuer(NewMemory(), &fakeSender{}, false)

	_, err := e.Enqueue(context.Background(), Request{Endpoint: "/api/x", Method: "GET"})
	assert.Error(t, err)
}

func TestEnqueue_RejectsMultipartPayload(t *testing.T) {
	e := newTestEnqueuer(NewMemory(), &fakeSender{}, false)

	_, err := e.Enqueue(context.Background(), Request{
		Endpoint: "/api/upload-image",
		Method:   "POST",
		Headers:  map[string]string{"content-type": "multipart/form-data; boundary=xyz"},
	})
	assert.Error(t, err)
}

func TestEnqueue_ExplicitActionTagWins(t *testing.T) {
	store := NewMemory()
	e := newTestEnqueuer(store, &fakeSender{}, false, "a-1")

	req := likeRequest()
	req.Action = "signup"
	result, err := e.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "signup", result.Action.Action)
}
