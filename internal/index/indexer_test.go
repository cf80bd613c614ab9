// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package index_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/index"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/internal/store/sqlite"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const dims = 3

// fakeEmbedder maps each text to a vector derived from its length.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    [][]string
	failures int
	short    bool
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, req provider.EmbedRequest) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Texts)
	if f.failures > 0 {
		f.failures--
		return nil, sigilerr.New(sigilerr.CodeProviderUpstreamFailure, "rate limited")
	}
	out := make([][]float32, 0, len(req.Texts))
	for _, text := range req.Texts {
		out = append(out, []float32{float32(len(text)), 1, 0})
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

type fixture struct {
	graph    store.GraphStore
	vectors  store.VectorStore
	embedder *fakeEmbedder
	indexer  *index.Indexer
}

func newFixture(t *testing.T, nodes int) *fixture {
	t.Helper()
	dir := t.TempDir()

	gs, err := sqlite.NewGraphStore(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Close() })

	vs, err := sqlite.NewVectorStore(filepath.Join(dir, "vectors.db"), dims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	seed(t, gs, 1, int64(nodes))

	emb := &fakeEmbedder{}
	ix, err := index.NewIndexer(index.IndexerConfig{
		Nodes:      gs.Nodes(),
		Watermarks: gs.Watermarks(),
		Vectors:    vs,
		Embedder:   emb,
		Model:      "text-embedding-3-small",
		BatchSize:  4,
		EmbedPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	return &fixture{graph: gs, vectors: vs, embedder: emb, indexer: ix}
}

func seed(t *testing.T, gs store.GraphStore, from, to int64) {
	t.Helper()
	var nodes []*store.Node
	for seq := from; seq <= to; seq++ {
		content := "post body"
		if seq == 3 {
			content = "   "
		}
		nodes = append(nodes, &store.Node{
			SequenceNo:  seq,
			AuthorLabel: "名無しさん",
			Content:     content,
			Timestamp:   time.Date(2024, 5, 1, 9, int(seq), 0, 0, time.UTC),
		})
	}
	if len(nodes) == 0 {
		return
	}
	_, err := gs.Nodes().UpsertNodes(context.Background(), nodes)
	require.NoError(t, err)
}

func TestIndexer_EmbedsAllNodesInBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	report, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)
	assert.Equal(t, 9, report.Embedded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, int64(10), report.LastSequenceNo)

	count, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)

	results, err := f.vectors.Search(ctx, []float32{9, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "名無しさん", results[0].Payload["author_label"])
}

func TestIndexer_ResumesAfterWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)

	_, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)

	seed(t, f.graph, 5, 6)
	report, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, int64(6), report.LastSequenceNo)

	nothing, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)
	assert.Zero(t, nothing.Embedded)
	assert.Equal(t, int64(6), nothing.LastSequenceNo)
}

func TestIndexer_ReembedsChangedNodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)

	_, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)

	_, err = f.graph.Nodes().UpsertNodes(ctx, []*store.Node{{
		SequenceNo:  2,
		AuthorLabel: "名無しさん",
		Content:     "edited body",
		Timestamp:   time.Date(2024, 5, 1, 9, 2, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	f.embedder.calls = nil

	report, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refreshed)
	assert.Zero(t, report.Embedded)
	require.Len(t, f.embedder.calls, 1)
	assert.Equal(t, []string{"edited body"}, f.embedder.calls[0])

	results, err := f.vectors.Search(ctx, []float32{float32(len("edited body")), 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, float64(2), results[0].Payload["sequence_no"])

	again, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Refreshed, "the stored payload now matches the node")
}

func TestIndexer_RebuildStartsOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	_, err := f.indexer.Run(ctx, index.Options{})
	require.NoError(t, err)

	report, err := f.indexer.Run(ctx, index.Options{Rebuild: true, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Embedded)
	assert.Equal(t, 1, report.Batches)

	count, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestIndexer_RetriesTransientEmbedFailures(t *testing.T) {
	f := newFixture(t, 2)
	f.embedder.failures = 2

	report, err := f.indexer.Run(context.Background(), index.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)
	assert.Len(t, f.embedder.calls, 3)
}

func TestIndexer_VectorCountMismatchFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	f.embedder.short = true

	_, err := f.indexer.Run(ctx, index.Options{})
	require.Error(t, err)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeIndexEmbedFailure))

	wm, err := f.graph.Watermarks().GetWatermark(ctx, store.WatermarkIndex)
	require.NoError(t, err)
	assert.False(t, wm.IsSet())
}

func TestNewIndexer_RequiresDependencies(t *testing.T) {
	_, err := index.NewIndexer(index.IndexerConfig{})
	require.Error(t, err)
	assert.True(t, sigilerr.IsInvalidInput(err))
}
