// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package index keeps the vector index in step with the knowledge graph.
// It embeds node contents in batches after the "index" watermark, and
// re-embeds indexed nodes whose content changed since they were embedded.
package index

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/bbsgraph/internal/metrics"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const defaultBatchSize = 64

// IndexerConfig holds dependencies for the Indexer.
type IndexerConfig struct {
	Nodes      store.NodeStore
	Watermarks store.WatermarkStore
	Vectors    store.VectorStore
	Embedder   provider.Embedder
	// Model is the embedding model name without the provider prefix.
	Model string

	BatchSize   int
	EmbedPolicy retry.Policy
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// Options controls a single Run.
type Options struct {
	// Rebuild clears the index and its watermark first.
	Rebuild   bool
	BatchSize int
}

// Report summarizes a Run.
type Report struct {
	Embedded       int
	// Refreshed counts already indexed nodes embedded again after a change.
	Refreshed      int
	Skipped        int
	Batches        int
	LastSequenceNo int64
}

// Indexer embeds nodes into the vector store.
type Indexer struct {
	nodes       store.NodeStore
	watermarks  store.WatermarkStore
	vectors     store.VectorStore
	embedder    provider.Embedder
	model       string
	batchSize   int
	embedPolicy retry.Policy
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// NewIndexer validates cfg and fills in defaults.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	if cfg.Nodes == nil || cfg.Watermarks == nil || cfg.Vectors == nil || cfg.Embedder == nil {
		return nil, sigilerr.New(sigilerr.CodeIndexRequestInvalid, "indexer needs nodes, watermarks, vectors and an embedder")
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	policy := cfg.EmbedPolicy
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		nodes:       cfg.Nodes,
		watermarks:  cfg.Watermarks,
		vectors:     cfg.Vectors,
		embedder:    cfg.Embedder,
		model:       cfg.Model,
		batchSize:   batch,
		embedPolicy: policy,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// Run first re-embeds changed nodes at or below the index watermark, then
// embeds every node after it, advancing the watermark after each stored
// batch. Nodes with blank content are skipped.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{}

	batchSize := opts.BatchSize
	if batchSize < 0 {
		return report, sigilerr.Errorf(sigilerr.CodeIndexRequestInvalid, "batch size must not be negative, got %d", batchSize)
	}
	if batchSize == 0 {
		batchSize = ix.batchSize
	}

	if opts.Rebuild {
		if err := ix.vectors.Reset(ctx); err != nil {
			return report, err
		}
		if err := ix.watermarks.ResetWatermark(ctx, store.WatermarkIndex); err != nil {
			return report, err
		}
		ix.logger.Info("vector index cleared for rebuild")
	}

	wm, err := ix.watermarks.GetWatermark(ctx, store.WatermarkIndex)
	if err != nil {
		return report, err
	}
	after := wm.LastSequenceNo
	report.LastSequenceNo = after

	if report.Refreshed, err = ix.refresh(ctx, after, batchSize); err != nil {
		return report, err
	}

	for {
		nodes, err := ix.nodes.ListNodes(ctx, after, batchSize)
		if err != nil {
			return report, err
		}
		if len(nodes) == 0 {
			break
		}

		n, err := ix.indexBatch(ctx, nodes)
		if err != nil {
			ix.metrics.IndexBatch(false, 0)
			return report, err
		}

		last := nodes[len(nodes)-1].SequenceNo
		wm, err = ix.watermarks.AdvanceWatermark(ctx, store.WatermarkIndex, last, wm.Version)
		if err != nil {
			ix.metrics.IndexBatch(false, 0)
			return report, err
		}

		ix.metrics.IndexBatch(true, n)
		report.Batches++
		report.Embedded += n
		report.Skipped += len(nodes) - n
		report.LastSequenceNo = wm.LastSequenceNo
		ix.logger.Debug("index batch stored", "from", nodes[0].SequenceNo, "to", last, "embedded", n)

		after = last
		if len(nodes) < batchSize {
			break
		}
	}

	ix.logger.Info("indexing finished",
		"embedded", report.Embedded,
		"refreshed", report.Refreshed,
		"batches", report.Batches,
		"watermark", report.LastSequenceNo,
	)
	return report, nil
}

// refresh re-embeds nodes up to maxSeq whose stored payload records an older
// version than the node, or that have no vector yet.
func (ix *Indexer) refresh(ctx context.Context, maxSeq int64, batchSize int) (int, error) {
	refreshed := 0
	var after int64
	for after < maxSeq {
		nodes, err := ix.nodes.ChangedNodes(ctx, after, maxSeq, batchSize)
		if err != nil {
			return refreshed, err
		}
		if len(nodes) == 0 {
			break
		}

		ids := make([]uuid.UUID, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		payloads, err := ix.vectors.Payloads(ctx, ids)
		if err != nil {
			return refreshed, err
		}

		var stale []*store.Node
		for _, n := range nodes {
			want := n.UpdatedAt.UTC().Format(time.RFC3339Nano)
			if got, _ := payloads[n.ID][store.PayloadUpdatedAt].(string); got != want {
				stale = append(stale, n)
			}
		}

		n, err := ix.indexBatch(ctx, stale)
		if err != nil {
			ix.metrics.IndexBatch(false, 0)
			return refreshed, err
		}
		if n > 0 {
			ix.metrics.IndexBatch(true, n)
			ix.logger.Debug("re-embedded changed nodes", "from", nodes[0].SequenceNo, "count", n)
		}
		refreshed += n

		after = nodes[len(nodes)-1].SequenceNo
		if len(nodes) < batchSize {
			break
		}
	}
	return refreshed, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, nodes []*store.Node) (int, error) {
	var (
		keep  []*store.Node
		texts []string
	)
	for _, n := range nodes {
		if strings.TrimSpace(n.Content) == "" {
			continue
		}
		keep = append(keep, n)
		texts = append(texts, n.Content)
	}
	if len(keep) == 0 {
		return 0, nil
	}

	vecs, err := retry.Do(ctx, ix.embedPolicy, retry.Transient, func(ctx context.Context) ([][]float32, error) {
		return ix.embedder.Embed(ctx, provider.EmbedRequest{
			Model:      ix.model,
			Texts:      texts,
			Dimensions: ix.vectors.Dimensions(),
		})
	})
	if err != nil {
		return 0, sigilerr.Wrap(err, sigilerr.CodeIndexEmbedFailure, "embedding nodes",
			sigilerr.FieldSequenceNo(keep[0].SequenceNo),
			sigilerr.FieldProvider(ix.embedder.Name()))
	}
	if len(vecs) != len(keep) {
		return 0, sigilerr.Errorf(sigilerr.CodeIndexEmbedFailure,
			"embedder returned %d vectors for %d texts", len(vecs), len(keep))
	}

	entries := make([]store.VectorEntry, len(keep))
	for i, n := range keep {
		entries[i] = store.VectorEntry{
			NodeID:    n.ID,
			Embedding: vecs[i],
			Payload:   store.PayloadFor(n),
		}
	}
	if err := ix.vectors.Upsert(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
