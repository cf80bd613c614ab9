// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"errors"

	"github.com/sigil-dev/bbsgraph/internal/provider"
)

// mockProvider is a reusable provider.Provider for registry tests.
type mockProvider struct {
	name      string
	available bool
	chatErr   error
	failures  int
	calls     int
}

func newMockProvider(name string, available bool) *mockProvider {
	return &mockProvider{name: name, available: available}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Available(context.Context) bool { return m.available }

func (m *mockProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	ch := make(chan provider.ChatEvent, 3)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: m.name + ":" + req.Model}
	ch <- provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 5}}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: m.available, Provider: m.name, Message: "ok"}, nil
}

func (m *mockProvider) Close() error { return nil }

func (m *mockProvider) RecordFailure() { m.failures++ }

func (m *mockProvider) RecordSuccess() {}

// mockEmbedder adds provider.Embedder to mockProvider.
type mockEmbedder struct {
	*mockProvider
}

func (m *mockEmbedder) Embed(_ context.Context, req provider.EmbedRequest) ([][]float32, error) {
	if len(req.Texts) == 0 {
		return nil, errors.New("no input")
	}
	out := make([][]float32, len(req.Texts))
	for i := range req.Texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}
