package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingmanhq/offline-sync/internal/netstate"
	"github.com/wingmanhq/offline-sync/internal/processor"
	"github.com/wingmanhq/offline-sync/internal/reconcile"
)

func TestStep(t *testing.T) {
	tests := []struct {
		name        string
		state       State
		event       Event
		wantState   State
		wantEffects []Effect
	}{
		{
			name:        "going online reconciles then drains",
			state:       State{Online: false},
			event:       ConnectivityChanged{Online: true},
			wantState:   State{Online: true},
			wantEffects: []Effect{EffectReconcile{}, EffectDrain{}},
		},
		{
			name:      "going offline holds the queue",
			state:     State{Online: true},
			event:     ConnectivityChanged{Online: false},
			wantState: State{Online: false},
		},
		{
			name:      "redundant online transition is ignored",
			state:     State{Online: true},
			event:     ConnectivityChanged{Online: true},
			wantState: State{Online: true},
		},
		{
			name:        "visible tab reconciles then drains while online",
			state:       State{Online: true},
			event:       TabVisible{},
			wantState:   State{Online: true},
			wantEffects: []Effect{EffectReconcile{}, EffectDrain{}},
		},
		{
			name:      "visible tab does nothing offline",
			state:     State{Online: false},
			event:     TabVisible{},
			wantState: State{Online: false},
		},
		{
			name:        "tick drains while online",
			state:       State{Online: true},
			event:       Tick{},
			wantState:   State{Online: true},
			wantEffects: []Effect{EffectDrain{}},
		},
		{
			name:        "tick probes for recovery while offline",
			state:       State{Online: false},
			event:       Tick{},
			wantState:   State{Online: false},
			wantEffects: []Effect{EffectProbe{}},
		},
		{
			name:        "process-queue message drains",
			state:       State{Online: true},
			event:       MessageReceived{Message: Message{Type: TypeProcessQueue}},
			wantState:   State{Online: true},
			wantEffects: []Effect{EffectDrain{}},
		},
		{
			name:        "cache-urls message warms the cache",
			state:       State{Online: true},
			event:       MessageReceived{Message: Message{Type: TypeCacheURLs, URLs: []string{"/a", "/b"}}},
			wantState:   State{Online: true},
			wantEffects: []Effect{EffectWarmCache{URLs: []string{"/a", "/b"}}},
		},
		{
			name:        "skip-waiting message activates",
			state:       State{Online: true},
			event:       MessageReceived{Message: Message{Type: TypeSkipWaiting}},
			wantState:   State{Online: true},
			wantEffects: []Effect{EffectActivate{}},
		},
		{
			name:      "announcement messages are not echoed",
			state:     State{Online: true},
			event:     MessageReceived{Message: QueueProcessed(3, 1)},
			wantState: State{Online: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, effects := Step(tt.state, tt.event)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantEffects, effects)
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"CACHE_URLS","urls":["/offline.html"]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeCacheURLs, m.Type)
	assert.Equal(t, []string{"/offline.html"}, m.URLs)

	_, err = DecodeMessage([]byte(`{"type":"REBOOT"}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`{}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

type fakeDrainer struct {
	sum   processor.Summary
	err   error
	calls int
}

func (f *fakeDrainer) Process(context.Context) (processor.Summary, error) {
	f.calls++
	return f.sum, f.err
}

type fakeReconciler struct {
	outcome reconcile.Outcome
	cleared int
	calls   int
}

func (f *fakeReconciler) Reconcile(context.Context) (reconcile.Outcome, int, error) {
	f.calls++
	return f.outcome, f.cleared, nil
}

type fakeCache struct {
	warmed    [][]string
	activated int
}

func (f *fakeCache) Precache(_ context.Context, urls []string) error {
	f.warmed = append(f.warmed, urls)
	return nil
}

func (f *fakeCache) Activate(context.Context) error {
	f.activated++
	return nil
}

type recordingBus struct{ messages []Message }

func (b *recordingBus) Broadcast(m Message) { b.messages = append(b.messages, m) }

func TestDispatch_OnlineTransitionRunsReconcileThenDrain(t *testing.T) {
	tracker := netstate.NewTracker(false)
	drain := &fakeDrainer{sum: processor.Summary{Processed: 2, Failed: 1}}
	rec := &fakeReconciler{outcome: reconcile.OutcomeCleared, cleared: 2}
	bus := &recordingBus{}
	c := New(tracker, drain, rec, &fakeCache{}, bus, nil)

	c.Dispatch(context.Background(), ConnectivityChanged{Online: true})

	assert.True(t, tracker.Online())
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 1, drain.calls)
	require.Len(t, bus.messages, 1)
	assert.Equal(t, QueueProcessed(2, 1), bus.messages[0])
}

func TestDispatch_DrainErrorStillAnnounces(t *testing.T) {
	tracker := netstate.NewTracker(true)
	drain := &fakeDrainer{err: errors.New("server unreachable")}
	bus := &recordingBus{}
	c := New(tracker, drain, &fakeReconciler{}, &fakeCache{}, bus, nil)

	c.Dispatch(context.Background(), Tick{})
	require.Len(t, bus.messages, 1, "clients still learn the pass ran")
	assert.Equal(t, QueueProcessed(0, 0), bus.messages[0])
}

func TestDispatch_MessagesDriveCache(t *testing.T) {
	tracker := netstate.NewTracker(true)
	cache := &fakeCache{}
	c := New(tracker, &fakeDrainer{}, &fakeReconciler{}, cache, nil, nil)
	ctx := context.Background()

	c.Dispatch(ctx, MessageReceived{Message: Message{Type: TypeCacheURLs, URLs: []string{"/offline.html"}}})
	c.Dispatch(ctx, MessageReceived{Message: Message{Type: TypeSkipWaiting}})

	require.Len(t, cache.warmed, 1)
	assert.Equal(t, []string{"/offline.html"}, cache.warmed[0])
	assert.Equal(t, 1, cache.activated)
}

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(context.Context) error {
	f.calls++
	return f.err
}

func TestDispatch_UnreachableDrainGoesOffline(t *testing.T) {
	tracker := netstate.NewTracker(true)
	drain := &fakeDrainer{sum: processor.Summary{Unreachable: true}}
	c := New(tracker, drain, &fakeReconciler{}, &fakeCache{}, nil, nil)

	c.Dispatch(context.Background(), Tick{})

	assert.False(t, tracker.Online())

	// Once offline, further ticks stop draining.
	c.Dispatch(context.Background(), Tick{})
	assert.Equal(t, 1, drain.calls)
}

func TestDispatch_SuccessfulProbeRestoresOnline(t *testing.T) {
	tracker := netstate.NewTracker(false)
	drain := &fakeDrainer{}
	rec := &fakeReconciler{}
	probe := &fakeProber{}
	c := New(tracker, drain, rec, &fakeCache{}, nil, nil, WithProbe(probe))

	c.Dispatch(context.Background(), Tick{})

	assert.Equal(t, 1, probe.calls)
	assert.True(t, tracker.Online())
	assert.Equal(t, 1, rec.calls, "recovery reconciles before draining")
	assert.Equal(t, 1, drain.calls)
}

func TestDispatch_FailedProbeStaysOffline(t *testing.T) {
	tracker := netstate.NewTracker(false)
	drain := &fakeDrainer{}
	probe := &fakeProber{err: errors.New("connection refused")}
	c := New(tracker, drain, &fakeReconciler{}, &fakeCache{}, nil, nil, WithProbe(probe))

	c.Dispatch(context.Background(), Tick{})

	assert.Equal(t, 1, probe.calls)
	assert.False(t, tracker.Online())
	assert.Zero(t, drain.calls)
}

type recordingWake struct {
	err   error
	calls int
}

func (w *recordingWake) RegisterWake(context.Context) error {
	w.calls++
	return w.err
}

func TestRun_RegistersWakeAndDowngradesOnFailure(t *testing.T) {
	wake := &recordingWake{err: errors.New("unsupported")}
	c := New(netstate.NewTracker(true), &fakeDrainer{}, &fakeReconciler{}, &fakeCache{}, nil, nil, WithWake(wake))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, wake.calls, "registration is attempted even when it cannot succeed")
}

func TestPlatformWake_ReportsUnavailable(t *testing.T) {
	assert.Error(t, PlatformWake{}.RegisterWake(context.Background()))
}

func TestNotify_DropsWhenBacklogged(t *testing.T) {
	c := New(netstate.NewTracker(true), &fakeDrainer{}, &fakeReconciler{}, &fakeCache{}, nil, nil)
	// nobody is draining c.events; filling past the buffer must not block
	for i := 0; i < 100; i++ {
		c.Notify(Tick{})
	}
}
