// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// maxRequestBody bounds the ask request body.
const maxRequestBody = 64 << 10

// SSEEventType names a server-sent event.
type SSEEventType string

// SSEEvent represents a single server-sent event. Data is a JSON document.
type SSEEvent struct {
	Event SSEEventType `json:"event"`
	Data  string       `json:"data"`
}

// AskRequest is the request body of the ask endpoint.
type AskRequest struct {
	Question string `json:"question" validate:"required,notblank" doc:"Question about the archive"`
}

// AskHandler answers a question and sends events to the channel.
// Implementations must close the channel when done and must stop sending
// once ctx is done.
type AskHandler interface {
	HandleAsk(ctx context.Context, req AskRequest, events chan<- SSEEvent)
}

func (s *Server) registerAskRoute() {
	s.router.Post("/api/v1/ask", s.rateLimit(s.handleAsk))

	// The streaming handler needs the raw ResponseWriter, so the route is
	// served by chi and only documented through huma.
	minLen := 1
	maxLen := s.cfg.MaxQuestionLength
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "ask",
		Method:      http.MethodPost,
		Path:        "/api/v1/ask",
		Summary:     "Answer a question about the archive",
		Description: "Streams citations, answer tokens and a final done or error event. Set Accept: text/event-stream for SSE, otherwise receives a JSON array of events.",
		Tags:        []string{"ask"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"question"},
						Properties: map[string]*huma.Schema{
							"question": {
								Type:        "string",
								MinLength:   &minLen,
								MaxLength:   &maxLen,
								Description: "Question about the archive",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Answer events (SSE or JSON array depending on Accept header)",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"},
					},
					"application/json": {
						Schema: &huma.Schema{
							Type:        "array",
							Description: "Collected events",
							Items:       &huma.Schema{Type: "object"},
						},
					},
				},
			},
			"400": {Description: "Malformed request body"},
			"422": {Description: "Validation error"},
			"429": {Description: "Rate limit exceeded"},
			"503": {Description: "Ask handler not configured"},
		},
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.validate(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if s.cfg.AskHandler == nil {
		writeError(w, http.StatusServiceUnavailable, "ask handler not configured")
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.writeSSE(w, r, req)
		return
	}
	s.writeJSON(w, r, req)
}

// stream runs the handler under a cancelable context. The returned stop
// cancels the handler and drains its channel so it never blocks.
func (s *Server) stream(r *http.Request, req AskRequest) (<-chan SSEEvent, func()) {
	ctx, cancel := context.WithCancel(r.Context())
	ch := make(chan SSEEvent, 16)
	go s.cfg.AskHandler.HandleAsk(ctx, req, ch)
	return ch, func() {
		cancel()
		for range ch {
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, r *http.Request, req AskRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// httptest.ResponseRecorder implements Flusher; some wrappers do not.
	flusher, _ := w.(http.Flusher)

	ch, stop := s.stream(r, req)
	defer stop()

	for event := range ch {
		if !validateEventType(event.Event) {
			s.cfg.Logger.Warn("dropping sse event with invalid type", "type", string(event.Event))
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, event.Data); err != nil {
			s.cfg.Logger.Debug("sse client went away", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, req AskRequest) {
	ch, stop := s.stream(r, req)
	defer stop()

	events := make([]json.RawMessage, 0, 16)
	for event := range ch {
		raw := []byte(event.Data)
		if !json.Valid(raw) {
			// Wrap non-JSON text as a JSON string so the response stays valid.
			raw, _ = json.Marshal(event.Data)
		}
		events = append(events, raw)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.cfg.Logger.Debug("writing json answer failed", "error", err)
	}
}

// validateEventType rejects types that would break SSE framing.
func validateEventType(t SSEEventType) bool {
	return !strings.ContainsAny(string(t), "\r\n")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
