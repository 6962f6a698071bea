package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusResolved, true},
		{StatusPending, StatusAwaitingFollowup, true},
		{StatusAwaitingFollowup, StatusPending, true},
		{StatusInProgress, StatusResolved, true},
		{StatusResolved, StatusPending, false},
		{StatusResolved, StatusInProgress, false},
		{StatusResolved, StatusResolved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusActive(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusInProgress.Active())
	assert.True(t, StatusAwaitingFollowup.Active())
	assert.False(t, StatusResolved.Active())
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "IL-2025-0001", FormatNumber("IL", 2025, 1))
	assert.Equal(t, "IL-2025-0042", FormatNumber("IL", 2025, 42))
	assert.Equal(t, "IL-2026-12345", FormatNumber("IL", 2026, 12345))
}
