package netstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_InitialState(t *testing.T) {
	assert.True(t, NewTracker(true).Online())
	assert.False(t, NewTracker(false).Online())
}

func TestTracker_SetReportsTransition(t *testing.T) {
	tr := NewTracker(false)

	assert.True(t, tr.Set(true), "offline to online is a transition")
	assert.True(t, tr.Online())

	assert.False(t, tr.Set(true), "online to online is not a transition")
	assert.True(t, tr.Set(false))
	assert.False(t, tr.Online())
}
