// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sigil-dev/bbsgraph/internal/retrieval"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Asker starts answering a question. *retrieval.Workflow implements it.
type Asker interface {
	Ask(ctx context.Context, question string) (*retrieval.Stream, error)
}

// WorkflowHandler adapts an Asker to the ask endpoint. Each retrieval event
// becomes one SSE event named after its type with the event as JSON data.
type WorkflowHandler struct {
	asker  Asker
	logger *slog.Logger
}

// NewWorkflowHandler returns a handler serving questions through asker.
func NewWorkflowHandler(asker Asker, logger *slog.Logger) *WorkflowHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowHandler{asker: asker, logger: logger}
}

func (h *WorkflowHandler) HandleAsk(ctx context.Context, req AskRequest, events chan<- SSEEvent) {
	defer close(events)

	stream, err := h.asker.Ask(ctx, req.Question)
	if err != nil {
		msg := "Could not start answering. Please try again later."
		if sigilerr.IsInvalidInput(err) {
			msg = "The question must not be empty."
		}
		h.logger.Warn("ask rejected", "code", sigilerr.CodeOf(err), "error", err)
		sendEvent(ctx, events, toSSE(retrieval.Event{Type: retrieval.EventError, Error: msg}))
		return
	}
	defer stream.Close()

	for ev := range stream.Events() {
		if !sendEvent(ctx, events, toSSE(ev)) {
			return
		}
	}
}

func toSSE(ev retrieval.Event) SSEEvent {
	data, err := json.Marshal(ev)
	if err != nil {
		// Event holds only strings and numbers.
		data = []byte(`{}`)
	}
	return SSEEvent{Event: SSEEventType(ev.Type), Data: string(data)}
}

func sendEvent(ctx context.Context, ch chan<- SSEEvent, ev SSEEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
