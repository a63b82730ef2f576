package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/studio-engine/policy"
)

func TestEvaluate_WindowBoundaries(t *testing.T) {
	start := time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		cancelledAt time.Time
		want        policy.Classification
		wantErr     bool
	}{
		{"25h before start is on time", start.Add(-25 * time.Hour), policy.OnTime, false},
		{"exactly 24h before start is late", start.Add(-24 * time.Hour), policy.Late, false},
		{"just outside the window is on time", start.Add(-24*time.Hour - time.Second), policy.OnTime, false},
		{"23h before start is late", start.Add(-23 * time.Hour), policy.Late, false},
		{"one second before start is late", start.Add(-time.Second), policy.Late, false},
		{"at start is rejected", start, "", true},
		{"after start is rejected", start.Add(time.Hour), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Evaluate(start, tt.cancelledAt, policy.DefaultWindow)
			if tt.wantErr {
				assert.ErrorIs(t, err, policy.ErrAfterStart)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_CustomWindow(t *testing.T) {
	// GIVEN: A studio running a 48h cancellation window
	// WHEN: A member cancels 36h before start
	// THEN: The cancellation is late under 48h but on time under 24h

	start := time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC)
	cancelledAt := start.Add(-36 * time.Hour)

	got, err := policy.Evaluate(start, cancelledAt, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, policy.Late, got)

	got, err = policy.Evaluate(start, cancelledAt, policy.DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, policy.OnTime, got)
}
