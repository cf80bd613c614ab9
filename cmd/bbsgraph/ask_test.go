// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/graph"
	"github.com/sigil-dev/bbsgraph/internal/retrieval"
)

func feed(events ...retrieval.Event) <-chan retrieval.Event {
	ch := make(chan retrieval.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func TestPrintAnswer_TokensThenSources(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 3, 0, 0, time.UTC)
	buf := new(bytes.Buffer)

	err := printAnswer(buf, feed(
		retrieval.Event{Type: retrieval.EventCitations, Citations: []graph.Citation{{SequenceNo: 3, AuthorLabel: "名無しさん", Timestamp: ts}}},
		retrieval.Event{Type: retrieval.EventToken, Token: "Post 3 "},
		retrieval.Event{Type: retrieval.EventToken, Token: "agreed."},
		retrieval.Event{Type: retrieval.EventDone},
	))
	require.NoError(t, err)
	assert.Equal(t, "Post 3 agreed.\n\nSources:\n  No.3 名無しさん 2024-05-01 09:03:00\n", buf.String())
}

func TestPrintAnswer_NoCitations(t *testing.T) {
	buf := new(bytes.Buffer)
	err := printAnswer(buf, feed(
		retrieval.Event{Type: retrieval.EventCitations},
		retrieval.Event{Type: retrieval.EventToken, Token: "I do not know."},
		retrieval.Event{Type: retrieval.EventDone},
	))
	require.NoError(t, err)
	assert.Equal(t, "I do not know.\n", buf.String())
}

func TestPrintAnswer_ErrorEvent(t *testing.T) {
	buf := new(bytes.Buffer)
	err := printAnswer(buf, feed(
		retrieval.Event{Type: retrieval.EventToken, Token: "partial"},
		retrieval.Event{Type: retrieval.EventError, Error: "The answer could not be generated."},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not be generated")
	assert.Equal(t, "partial\n", buf.String())
}
