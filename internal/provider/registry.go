// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"slices"
	"strings"
	"sync"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Registry manages provider registration, lookup, and routing with
// failover. Model references use "provider/model" format.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string   // "provider/model" format
	failover   []string // ordered list of "provider/model" refs
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, sigilerr.New(
			sigilerr.CodeProviderNotFound,
			"provider not found: "+name,
			sigilerr.FieldProvider(name),
		)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SetDefault sets the default "provider/model" reference used when no
// explicit model is requested. Returns an error if the provider portion
// of the ref is not registered.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked("SetDefault", ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// SetFailover sets the ordered failover chain of "provider/model" refs.
// Returns an error if any provider portion of the refs is not registered.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked("SetFailover", ref); err != nil {
			return err
		}
	}
	r.failover = append([]string(nil), chain...)
	return nil
}

// Route selects a provider for modelRef, or for the default ref when
// modelRef is empty. Unavailable providers are skipped in favour of the
// failover chain. The exclude list contains provider names to skip
// (already-tried providers in the current failover sequence).
func (r *Registry) Route(ctx context.Context, modelRef string, exclude ...string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref := modelRef
	if ref == "" || ref == "default" {
		ref = r.defaultRef
	}
	if ref == "" {
		return nil, "", sigilerr.New(
			sigilerr.CodeProviderNoDefault,
			"no default provider configured",
		)
	}
	if !strings.Contains(ref, "/") {
		return nil, "", sigilerr.Errorf(
			sigilerr.CodeProviderInvalidModelRef,
			"model name %q must use provider/model format", ref,
		)
	}

	for _, candidate := range append([]string{ref}, r.failover...) {
		provName, _ := parseRef(candidate)
		if slices.Contains(exclude, provName) {
			continue
		}
		p, model, err := r.tryRef(ctx, candidate)
		if err == nil {
			return p, model, nil
		}
	}

	return nil, "", sigilerr.New(
		sigilerr.CodeProviderAllUnavailable,
		"all providers unavailable: no healthy provider found",
	)
}

// MaxAttempts returns 1 (primary) + len(failover chain).
func (r *Registry) MaxAttempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return 1 + len(r.failover)
}

// Chat routes req and opens a stream, failing over to the next provider
// when a provider refuses the call before streaming starts. Failures once
// the stream is open are reported in-band as error events.
func (r *Registry) Chat(ctx context.Context, modelRef string, req ChatRequest) (<-chan ChatEvent, string, error) {
	var (
		tried   []string
		lastErr error
	)
	for range r.MaxAttempts() {
		p, model, err := r.Route(ctx, modelRef, tried...)
		if err != nil {
			if lastErr != nil {
				return nil, "", lastErr
			}
			return nil, "", err
		}

		req.Model = model
		events, err := p.Chat(ctx, req)
		if err == nil {
			return events, p.Name() + "/" + model, nil
		}
		if hr, ok := p.(HealthReporter); ok {
			hr.RecordFailure()
		}
		tried = append(tried, p.Name())
		lastErr = err
	}
	return nil, "", lastErr
}

// Embedder resolves modelRef to a provider that supports embeddings.
func (r *Registry) Embedder(modelRef string) (Embedder, string, error) {
	if !strings.Contains(modelRef, "/") {
		return nil, "", sigilerr.Errorf(
			sigilerr.CodeProviderInvalidModelRef,
			"embedding model %q must use provider/model format", modelRef,
		)
	}
	provName, model := parseRef(modelRef)
	p, err := r.Get(provName)
	if err != nil {
		return nil, "", err
	}
	e, ok := p.(Embedder)
	if !ok {
		return nil, "", sigilerr.New(
			sigilerr.CodeProviderRequestInvalid,
			"provider does not support embeddings: "+provName,
			sigilerr.FieldProvider(provName),
		)
	}
	return e, model, nil
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return sigilerr.Join(errs...)
	}
	return nil
}

// checkRefLocked verifies the provider portion of ref is registered.
// Caller must hold r.mu.
func (r *Registry) checkRefLocked(op, ref string) error {
	provName, _ := parseRef(ref)
	if _, ok := r.providers[provName]; !ok {
		return sigilerr.New(
			sigilerr.CodeProviderNotFound,
			op+": provider not registered: "+provName,
			sigilerr.FieldProvider(provName),
		)
	}
	return nil
}

// tryRef parses a "provider/model" ref, looks up the provider, and checks
// availability. Caller must hold r.mu (at least RLock).
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	providerName, model := parseRef(ref)

	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", sigilerr.New(
			sigilerr.CodeProviderNotFound,
			"provider not found: "+providerName,
			sigilerr.FieldProvider(providerName),
		)
	}

	if !p.Available(ctx) {
		return nil, "", sigilerr.New(
			sigilerr.CodeProviderUpstreamFailure,
			"provider unavailable: "+providerName,
			sigilerr.FieldProvider(providerName),
		)
	}

	return p, model, nil
}

// parseRef splits a "provider/model" reference on the first "/".
func parseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
