// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
)

// Provider is the core interface for streaming chat LLM providers.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
	Status(ctx context.Context) (ProviderStatus, error)
	Close() error
}

// Embedder turns texts into embedding vectors. Providers that support
// embeddings implement it alongside Provider.
type Embedder interface {
	Name() string
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, error)
}

// HealthReporter is implemented by providers that track upstream failures.
type HealthReporter interface {
	RecordFailure()
	RecordSuccess()
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Options      ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	Temperature   float32
	MaxTokens     int
	StopSequences []string
	// JSONOutput asks the model for a single JSON object where supported.
	JSONOutput bool
}

// EmbedRequest describes one embedding call. Dimensions > 0 asks the model
// for that many dimensions where the API supports it.
type EmbedRequest struct {
	Model      string
	Texts      []string
	Dimensions int
}

// Message represents a conversation message.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ChatEvent is a streaming response event.
type ChatEvent struct {
	Type  EventType
	Text  string
	Usage *Usage
	Error string
}

// EventType defines the type of chat event.
type EventType string

const (
	EventTypeTextDelta EventType = "text_delta"
	EventTypeUsage     EventType = "usage"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderStatus indicates provider health.
type ProviderStatus struct {
	Available bool
	Provider  string
	Message   string
}

// Send delivers ev on ch unless ctx is done first. Streaming goroutines use
// it for every send so a consumer that stops reading never strands them.
func Send(ctx context.Context, ch chan<- ChatEvent, ev ChatEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
