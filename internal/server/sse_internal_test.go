// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sigil-dev/bbsgraph/internal/graph"
	"github.com/sigil-dev/bbsgraph/internal/retrieval"
)

func TestValidateEventType(t *testing.T) {
	tests := []struct {
		name      string
		eventType SSEEventType
		want      bool
	}{
		{
			name:      "valid plain event type",
			eventType: "text_delta",
			want:      true,
		},
		{
			name:      "valid event type with dots",
			eventType: "tool.call.result",
			want:      true,
		},
		{
			name:      "newline rejected",
			eventType: "text_delta\ninjected: data",
			want:      false,
		},
		{
			name:      "carriage return rejected",
			eventType: "text_delta\rinjected: data",
			want:      false,
		},
		{
			name:      "crlf rejected",
			eventType: "text_delta\r\ninjected: data",
			want:      false,
		},
		{
			name:      "empty string is valid",
			eventType: "",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validateEventType(tt.eventType)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, MaxVisitors: 10})
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "buckets are per IP")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
}

func TestLimiter_EvictsOldestVisitor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxVisitors: 2})
	l.now = func() time.Time { return now }

	l.allow("a")
	now = now.Add(time.Second)
	l.allow("b")
	now = now.Add(time.Second)
	l.allow("c")

	assert.Len(t, l.visitors, 2)
	assert.NotContains(t, l.visitors, "a")
}

func TestToSSE(t *testing.T) {
	ev := toSSE(retrieval.Event{
		Type:      retrieval.EventCitations,
		Citations: []graph.Citation{{SequenceNo: 10, AuthorLabel: "名無しさん"}},
	})
	assert.Equal(t, SSEEventType("citations"), ev.Event)
	assert.Contains(t, ev.Data, `"type":"citations"`)
	assert.Contains(t, ev.Data, "名無しさん")
}
