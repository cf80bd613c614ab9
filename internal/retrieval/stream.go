// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package retrieval

import (
	"context"
	"sync"

	"github.com/sigil-dev/bbsgraph/internal/graph"
)

// State is a step of the question workflow.
type State string

const (
	StateRetrievingSeed State = "RETRIEVING_SEED"
	StateTraversing     State = "TRAVERSING"
	StateSynthesizing   State = "SYNTHESIZING"
	StateGenerating     State = "GENERATING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
	// StateCanceled ends a run the caller stopped. It is not a failure.
	StateCanceled State = "CANCELED"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// EventType names a stream event.
type EventType string

const (
	EventToken     EventType = "token"
	EventCitations EventType = "citations"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Event is one item of an answer stream. Citations arrive once, before
// the first token; error and done are terminal.
type Event struct {
	Type      EventType        `json:"type"`
	Token     string           `json:"token,omitempty"`
	Citations []graph.Citation `json:"citations,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Stream is a running answer. Read Events until the channel closes, or
// call Close to stop early.
type Stream struct {
	events    chan Event
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu    sync.RWMutex
	state State
	err   error
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		cancel: cancel,
		state:  StateRetrievingSeed,
	}
}

// Events yields the stream's events and is closed when the run ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close cancels the run, waits for it to release the generation stream,
// and returns. It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

// Done is closed once the run has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns why the run failed or was canceled, or nil.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Stream) finish(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.err = err
	s.mu.Unlock()
}

// send delivers ev unless ctx ends first.
func (s *Stream) send(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
