// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"sync"
	"time"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
	"github.com/sigil-dev/bbsgraph/pkg/health"
)

// HealthTracker marks a provider unhealthy after threshold consecutive
// failures. An unhealthy provider becomes eligible again once the cooldown
// has elapsed, so a recovered upstream is picked up without a restart.
type HealthTracker struct {
	mu           sync.RWMutex
	threshold    int
	consecutive  int
	failedAt     time.Time
	cooldown     time.Duration
	failureCount int64
	nowFunc      func() time.Time // for testing
}

// DefaultHealthCooldown is the duration after which an unhealthy provider
// becomes eligible for retry.
const DefaultHealthCooldown = 30 * time.Second

// NewHealthTracker creates a HealthTracker that starts healthy and trips on
// the first failure. Returns an error if cooldown is zero or negative.
func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	return NewHealthTrackerWithThreshold(cooldown, 1)
}

// NewHealthTrackerWithThreshold is NewHealthTracker with a configurable
// number of consecutive failures before the provider is marked unhealthy.
func NewHealthTrackerWithThreshold(cooldown time.Duration, threshold int) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	if threshold < 1 {
		return nil, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
			"health tracker threshold must be at least 1, got %d", threshold)
	}
	return &HealthTracker{
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
	}, nil
}

// isHealthyLocked reports whether the provider is healthy or the cooldown
// has elapsed. The caller MUST hold at least h.mu.RLock.
func (h *HealthTracker) isHealthyLocked() bool {
	if h.consecutive < h.threshold {
		return true
	}
	return h.nowFunc().Sub(h.failedAt) >= h.cooldown
}

// IsHealthy returns true if the provider is healthy or the cooldown has elapsed.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

// RecordSuccess clears the consecutive failure count.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.consecutive = 0
	h.mu.Unlock()
}

// RecordFailure counts a failure and restarts the cooldown window.
func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	h.consecutive++
	h.failedAt = h.nowFunc()
	h.failureCount++
	h.mu.Unlock()
}

// SetNowFunc overrides the time source (for testing).
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// HealthMetrics returns a point-in-time snapshot of the tracker's health state.
func (h *HealthTracker) HealthMetrics() health.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := health.Metrics{
		FailureCount:        h.failureCount,
		ConsecutiveFailures: h.consecutive,
		Available:           h.isHealthyLocked(),
	}

	if h.failureCount > 0 {
		t := h.failedAt
		m.LastFailureAt = &t
	}

	if h.consecutive >= h.threshold {
		cooldownEnd := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &cooldownEnd
	}
	return m
}
