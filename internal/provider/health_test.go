// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/provider"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func newTracker(t *testing.T, cooldown time.Duration) *provider.HealthTracker {
	t.Helper()
	h, err := provider.NewHealthTracker(cooldown)
	require.NoError(t, err)
	return h
}

func TestHealthTracker_StartsHealthy(t *testing.T) {
	h := newTracker(t, 30*time.Second)
	assert.True(t, h.IsHealthy())
	assert.True(t, h.HealthMetrics().Available)
}

func TestHealthTracker_FailureMakesUnhealthy(t *testing.T) {
	h := newTracker(t, 30*time.Second)
	h.RecordFailure()
	assert.False(t, h.IsHealthy())

	m := h.HealthMetrics()
	assert.Equal(t, int64(1), m.FailureCount)
	assert.NotNil(t, m.LastFailureAt)
	assert.NotNil(t, m.CooldownUntil)
}

func TestHealthTracker_SuccessRestoresHealth(t *testing.T) {
	h := newTracker(t, 30*time.Second)
	h.RecordFailure()
	h.RecordSuccess()
	assert.True(t, h.IsHealthy())
	assert.Nil(t, h.HealthMetrics().CooldownUntil)
}

func TestHealthTracker_CooldownBoundary(t *testing.T) {
	cooldown := 10 * time.Second
	now := time.Now()

	tests := []struct {
		name        string
		elapsed     time.Duration
		wantHealthy bool
	}{
		{"before cooldown", 9 * time.Second, false},
		{"exactly at cooldown", 10 * time.Second, true},
		{"after cooldown", 11 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTracker(t, cooldown)
			h.SetNowFunc(func() time.Time { return now })
			h.RecordFailure()

			h.SetNowFunc(func() time.Time { return now.Add(tt.elapsed) })
			assert.Equal(t, tt.wantHealthy, h.IsHealthy())
		})
	}
}

func TestHealthTracker_Threshold(t *testing.T) {
	h, err := provider.NewHealthTrackerWithThreshold(time.Minute, 3)
	require.NoError(t, err)

	h.RecordFailure()
	h.RecordFailure()
	assert.True(t, h.IsHealthy(), "below threshold")

	h.RecordFailure()
	assert.False(t, h.IsHealthy())
	assert.Equal(t, 3, h.HealthMetrics().ConsecutiveFailures)
}

func TestHealthTracker_InvalidSettings(t *testing.T) {
	_, err := provider.NewHealthTracker(0)
	assert.True(t, sigilerr.IsInvalidInput(err))

	_, err = provider.NewHealthTrackerWithThreshold(time.Second, 0)
	assert.True(t, sigilerr.IsInvalidInput(err))
}
