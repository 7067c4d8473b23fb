package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceMovesForward(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	require.Equal(t, start, fake.Now())

	fake.Advance(7 * 24 * time.Hour)
	assert.Equal(t, start.Add(7*24*time.Hour), fake.Now())
}

func TestFake_SetPinsInstant(t *testing.T) {
	fake := NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	target := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	fake.Set(target)

	assert.Equal(t, target, fake.Now())
}

func TestFake_ConcurrentAccess(t *testing.T) {
	fake := NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			fake.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = fake.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC), fake.Now())
}

func TestSystem_TracksWallClock(t *testing.T) {
	before := time.Now()
	got := System{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}
