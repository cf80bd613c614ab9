// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/sigil-dev/bbsgraph/internal/archive"
	"github.com/sigil-dev/bbsgraph/internal/config"
	"github.com/sigil-dev/bbsgraph/internal/graph"
	"github.com/sigil-dev/bbsgraph/internal/graphsync"
	"github.com/sigil-dev/bbsgraph/internal/index"
	"github.com/sigil-dev/bbsgraph/internal/inference"
	"github.com/sigil-dev/bbsgraph/internal/lease"
	"github.com/sigil-dev/bbsgraph/internal/metrics"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/provider/anthropic"
	"github.com/sigil-dev/bbsgraph/internal/provider/google"
	"github.com/sigil-dev/bbsgraph/internal/provider/openai"
	"github.com/sigil-dev/bbsgraph/internal/retrieval"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/secrets"
	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/internal/telemetry"
	"github.com/sigil-dev/bbsgraph/pkg/health"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"

	// Register the SQLite storage backend.
	_ "github.com/sigil-dev/bbsgraph/internal/store/sqlite"
)

// providerFactory creates a provider from its config section.
type providerFactory func(pc config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// SDK-level retries are disabled; callers retry through internal/retry.
var builtinProviderFactories = map[string]providerFactory{
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"google": func(pc config.ProviderConfig) (provider.Provider, error) {
		return google.New(google.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
}

// runtime opens the components a command needs on first use and closes
// them in reverse order.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics  *metrics.Collector
	graph    store.GraphStore
	vectors  store.VectorStore
	registry *provider.Registry
	tracing  *telemetry.Provider

	closers []func() error
}

func newRuntime(cfg *config.Config, logger *slog.Logger) *runtime {
	return &runtime{cfg: cfg, logger: logger, metrics: metrics.New()}
}

// Close releases everything opened so far.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *runtime) storageConfig() *store.StorageConfig {
	return &store.StorageConfig{
		Backend:          r.cfg.Storage.Backend,
		DataDir:          r.cfg.Storage.DataDir,
		VectorDimensions: r.cfg.Storage.VectorDimensions,
	}
}

// Graph opens the knowledge graph store.
func (r *runtime) Graph() (store.GraphStore, error) {
	if r.graph != nil {
		return r.graph, nil
	}
	gs, err := store.NewGraphStore(r.storageConfig())
	if err != nil {
		return nil, err
	}
	r.graph = gs
	r.closers = append(r.closers, gs.Close)
	return gs, nil
}

// Vectors opens the vector index.
func (r *runtime) Vectors() (store.VectorStore, error) {
	if r.vectors != nil {
		return r.vectors, nil
	}
	vs, err := store.NewVectorStore(r.storageConfig())
	if err != nil {
		return nil, err
	}
	r.vectors = vs
	r.closers = append(r.closers, vs.Close)
	return vs, nil
}

// Registry builds the provider registry from every provider with a usable
// API key, then sets the generation default and failover chain.
func (r *runtime) Registry() (*provider.Registry, error) {
	if r.registry != nil {
		return r.registry, nil
	}

	reg := provider.NewRegistry()
	if err := registerBuiltinProviders(reg, r.cfg.Providers, r.logger); err != nil {
		_ = reg.Close()
		return nil, err
	}
	if len(reg.Names()) == 0 {
		return nil, sigilerr.New(sigilerr.CodeCLISetupFailure,
			"no LLM provider is configured; set providers.<name>.api_key or the matching environment variable")
	}

	if err := reg.SetDefault(r.cfg.Models.Generation); err != nil {
		_ = reg.Close()
		return nil, sigilerr.Wrapf(err, sigilerr.CodeCLISetupFailure,
			"generation model %q needs a configured provider", r.cfg.Models.Generation)
	}

	var chain []string
	for _, ref := range r.cfg.Models.Failover {
		name, _, _ := strings.Cut(ref, "/")
		if !slices.Contains(reg.Names(), name) {
			r.logger.Warn("skipping failover model without a configured provider", "model", ref)
			continue
		}
		chain = append(chain, ref)
	}
	if err := reg.SetFailover(chain); err != nil {
		_ = reg.Close()
		return nil, err
	}

	r.registry = reg
	r.closers = append(r.closers, reg.Close)
	return reg, nil
}

// registerBuiltinProviders registers each known provider that has an API
// key. Keys still holding an unresolved secret reference count as missing.
func registerBuiltinProviders(reg *provider.Registry, providers map[string]config.ProviderConfig, logger *slog.Logger) error {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		pc := providers[name]
		factory, ok := builtinProviderFactories[name]
		if !ok {
			logger.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		if pc.APIKey == "" || secrets.IsReference(pc.APIKey) {
			logger.Debug("provider has no API key, skipping", "provider", name)
			continue
		}

		p, err := factory(pc)
		if err != nil {
			return sigilerr.Wrapf(err, sigilerr.CodeCLISetupFailure, "creating provider %s", name)
		}
		reg.Register(name, p)
		logger.Debug("registered provider", "provider", name)
	}
	return nil
}

// Embedder resolves the configured embedding model.
func (r *runtime) Embedder() (provider.Embedder, string, error) {
	reg, err := r.Registry()
	if err != nil {
		return nil, "", err
	}
	emb, model, err := reg.Embedder(r.cfg.Models.Embedding)
	if err != nil {
		return nil, "", sigilerr.Wrapf(err, sigilerr.CodeCLISetupFailure,
			"embedding model %q is not available", r.cfg.Models.Embedding)
	}
	return emb, model, nil
}

// Tracing installs the tracer provider.
func (r *runtime) Tracing(ctx context.Context) (*telemetry.Provider, error) {
	if r.tracing != nil {
		return r.tracing, nil
	}
	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    r.cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       r.cfg.Telemetry.Endpoint,
		Insecure:       r.cfg.Telemetry.Insecure,
		SampleRate:     r.cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	r.tracing = tp
	r.closers = append(r.closers, func() error {
		return tp.Shutdown(context.WithoutCancel(ctx))
	})
	return tp, nil
}

// readPolicy is the retry policy for store and archive reads.
func (r *runtime) readPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if r.cfg.Sync.ReadAttempts > 0 {
		p.MaxAttempts = r.cfg.Sync.ReadAttempts
	}
	return p
}

// Engine wires the archive, graph store, lease backend and reply inference
// into a sync engine.
func (r *runtime) Engine(ctx context.Context) (*graphsync.Engine, error) {
	gs, err := r.Graph()
	if err != nil {
		return nil, err
	}

	src, err := archive.Open(archive.Config{
		Driver: r.cfg.Source.Driver,
		DSN:    r.cfg.Source.DSN,
		Table:  r.cfg.Source.Table,
	})
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, src.Close)

	leases, err := lease.Open(ctx, lease.Config{
		Backend:       r.cfg.Lease.Backend,
		RedisURL:      r.cfg.Lease.RedisURL,
		EtcdEndpoints: r.cfg.Lease.EtcdEndpoints,
		Prefix:        r.cfg.Lease.Prefix,
	}, gs.Watermarks())
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, leases.Close)

	inferrer, err := r.Inferrer()
	if err != nil {
		return nil, err
	}
	policy, err := inference.NewPolicy(r.cfg.Inference.MinConfidence, r.cfg.Inference.AcceptExpr)
	if err != nil {
		return nil, err
	}

	return graphsync.NewEngine(graphsync.EngineConfig{
		Source:           src,
		Graph:            gs,
		Leases:           leases,
		Inferrer:         inferrer,
		Policy:           policy,
		Metrics:          r.metrics,
		Logger:           r.logger,
		BatchSize:        r.cfg.Sync.BatchSize,
		SequentialWindow: r.cfg.Sync.SequentialWindow,
		ChunkSize:        r.cfg.Inference.ChunkSize,
		ContextWindow:    r.cfg.Inference.ContextWindow,
		LeaseTTL:         r.cfg.Sync.LeaseTTL,
		ReadPolicy:       r.readPolicy(),
	})
}

// Inferrer composes reply inference: the model behind retry and a circuit
// breaker, merged with explicit anchors. Nil disables inference.
func (r *runtime) Inferrer() (inference.Inferrer, error) {
	ic := r.cfg.Inference
	var parts []inference.Inferrer

	if ic.Enabled {
		reg, err := r.Registry()
		if err != nil {
			return nil, err
		}
		llm := inference.NewLLMInferrer(reg, inference.LLMConfig{
			Model:        r.cfg.Models.Inference,
			MaxPostChars: ic.MaxPostChars,
			Logger:       r.logger,
		})

		rc := inference.DefaultRetryConfig()
		rc.Logger = r.logger
		if ic.MaxAttempts > 0 {
			rc.MaxAttempts = ic.MaxAttempts
		}

		bc := inference.DefaultBreakerConfig()
		bc.Logger = r.logger
		if ic.Breaker.FailureThreshold > 0 {
			bc.FailureThreshold = ic.Breaker.FailureThreshold
		}
		if ic.Breaker.MinRequests > 0 {
			bc.MinRequests = ic.Breaker.MinRequests
		}
		if ic.Breaker.Timeout > 0 {
			bc.Timeout = ic.Breaker.Timeout
		}

		// The breaker sits inside the retry so an open circuit stops the
		// retry loop at once.
		parts = append(parts, inference.WithRetry(inference.WithBreaker(llm, bc), rc))
	}
	if ic.Anchors {
		parts = append(parts, inference.AnchorInferrer{})
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	default:
		return inference.Merge(parts...), nil
	}
}

// Indexer wires the graph store, vector index and embedder.
func (r *runtime) Indexer() (*index.Indexer, error) {
	gs, err := r.Graph()
	if err != nil {
		return nil, err
	}
	vs, err := r.Vectors()
	if err != nil {
		return nil, err
	}
	emb, model, err := r.Embedder()
	if err != nil {
		return nil, err
	}
	return index.NewIndexer(index.IndexerConfig{
		Nodes:      gs.Nodes(),
		Watermarks: gs.Watermarks(),
		Vectors:    vs,
		Embedder:   emb,
		Model:      model,
		Metrics:    r.metrics,
		Logger:     r.logger,
	})
}

// Workflow wires the question answering workflow.
func (r *runtime) Workflow(ctx context.Context) (*retrieval.Workflow, error) {
	gs, err := r.Graph()
	if err != nil {
		return nil, err
	}
	vs, err := r.Vectors()
	if err != nil {
		return nil, err
	}
	emb, model, err := r.Embedder()
	if err != nil {
		return nil, err
	}
	reg, err := r.Registry()
	if err != nil {
		return nil, err
	}
	tp, err := r.Tracing(ctx)
	if err != nil {
		return nil, err
	}

	rc := r.cfg.Retrieval
	return retrieval.NewWorkflow(retrieval.WorkflowConfig{
		Embedder:        emb,
		EmbedModel:      model,
		Vectors:         vs,
		Traverser:       graph.NewTraverser(gs.Nodes(), gs.Edges(), r.readPolicy()),
		Generator:       reg,
		GenerationModel: r.cfg.Models.Generation,
		TopK:            rc.TopK,
		TokenBudget:     rc.TokenBudget,
		Traversal: graph.Options{
			MaxHops:       rc.MaxHops,
			MaxNodes:      rc.MaxNodes,
			PreferReplies: rc.PreferReplies,
		},
		Timeouts: retrieval.Timeouts{
			Embed:      rc.Timeouts.Embed,
			Vector:     rc.Timeouts.Vector,
			Graph:      rc.Timeouts.Graph,
			Generation: rc.Timeouts.Generation,
		},
		ReadPolicy:  r.readPolicy(),
		Temperature: rc.Temperature,
		MaxTokens:   rc.MaxTokens,
		Metrics:     r.metrics,
		Tracer:      tp.Tracer(),
		Logger:      r.logger,
	})
}

// metricsReporter is implemented by providers that expose health metrics.
type metricsReporter interface {
	HealthMetrics() health.Metrics
}

// Health reports store counts, the sync watermark and provider health.
// Status is "degraded" when a store cannot be read or a provider is in
// cooldown.
func (r *runtime) Health(ctx context.Context) health.Report {
	report := health.Report{Status: "ok"}
	degrade := func(what string, err error) {
		r.logger.Warn("health check failed", "component", what, "error", err)
		report.Status = "degraded"
	}

	if gs, err := r.Graph(); err != nil {
		degrade("graph", err)
	} else {
		if n, err := gs.Nodes().CountNodes(ctx); err != nil {
			degrade("nodes", err)
		} else {
			report.Nodes = n
		}
		if n, err := gs.Edges().CountEdges(ctx, ""); err != nil {
			degrade("edges", err)
		} else {
			report.Edges = n
		}
		if wm, err := gs.Watermarks().GetWatermark(ctx, store.WatermarkSync); err != nil {
			degrade("watermark", err)
		} else {
			report.Watermark = wm.LastSequenceNo
		}
	}

	if vs, err := r.Vectors(); err != nil {
		degrade("vectors", err)
	} else if n, err := vs.Count(ctx); err != nil {
		degrade("vectors", err)
	} else {
		report.Vectors = n
	}

	if r.registry != nil {
		report.Providers = make(map[string]health.Metrics)
		for _, name := range r.registry.Names() {
			p, err := r.registry.Get(name)
			if err != nil {
				continue
			}
			mr, ok := p.(metricsReporter)
			if !ok {
				continue
			}
			m := mr.HealthMetrics()
			report.Providers[name] = m
			if !m.Available {
				report.Status = "degraded"
			}
		}
	}

	return report
}
