// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package health holds the serializable health snapshot shared by the
// provider layer and the HTTP health endpoint.
package health

import "time"

// Metrics exposes the current health state of a provider for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	FailureCount        int64      `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	Available           bool       `json:"available"`
}

// Report is the body served by the health endpoint.
type Report struct {
	Status    string             `json:"status"`
	Providers map[string]Metrics `json:"providers,omitempty"`
	Nodes     int64              `json:"nodes"`
	Edges     int64              `json:"edges"`
	Vectors   int64              `json:"vectors"`
	Watermark int64              `json:"sync_watermark"`
}
