// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/internal/store/sqlite"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func testVectors(t *testing.T) *sqlite.VectorStore {
	t.Helper()
	vs, err := sqlite.NewVectorStore(testDBPath(t, "vectors"), 3) // 3-dimensional embeddings for testing
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	return vs
}

func TestVectorStore_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	vs := testVectors(t)

	v1, v2, v3 := uuid.New(), uuid.New(), uuid.New()
	err := vs.Upsert(ctx, []store.VectorEntry{
		{NodeID: v1, Embedding: []float32{1.0, 0.0, 0.0}, Payload: map[string]any{"sequence_no": 1}},
		{NodeID: v2, Embedding: []float32{0.0, 1.0, 0.0}, Payload: map[string]any{"sequence_no": 2}},
		{NodeID: v3, Embedding: []float32{0.9, 0.1, 0.0}, Payload: map[string]any{"sequence_no": 3}},
	})
	require.NoError(t, err)

	// Search for nearest to [1, 0, 0]
	results, err := vs.Search(ctx, []float32{1.0, 0.0, 0.0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, v1, results[0].NodeID) // exact match should be first
	assert.Equal(t, v3, results[1].NodeID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.Equal(t, float64(1), results[0].Payload["sequence_no"])

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestVectorStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	vs := testVectors(t)

	id := uuid.New()
	require.NoError(t, vs.Upsert(ctx, []store.VectorEntry{
		{NodeID: id, Embedding: []float32{1.0, 0.0, 0.0}, Payload: map[string]any{"version": float64(1)}},
	}))
	require.NoError(t, vs.Upsert(ctx, []store.VectorEntry{
		{NodeID: id, Embedding: []float32{0.0, 1.0, 0.0}, Payload: map[string]any{"version": float64(2)}},
	}))

	results, err := vs.Search(ctx, []float32{0.0, 1.0, 0.0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].NodeID)
	assert.Equal(t, float64(2), results[0].Payload["version"])

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestVectorStore_DeleteAndReset(t *testing.T) {
	ctx := context.Background()
	vs := testVectors(t)

	a, b := uuid.New(), uuid.New()
	require.NoError(t, vs.Upsert(ctx, []store.VectorEntry{
		{NodeID: a, Embedding: []float32{1, 0, 0}},
		{NodeID: b, Embedding: []float32{0, 1, 0}},
	}))

	require.NoError(t, vs.Delete(ctx, []uuid.UUID{a}))
	results, err := vs.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, b, results[0].NodeID)

	require.NoError(t, vs.Reset(ctx))
	results, err = vs.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	vs := testVectors(t)

	err := vs.Upsert(ctx, []store.VectorEntry{{NodeID: uuid.New(), Embedding: []float32{1, 0}}})
	require.Error(t, err)
	assert.True(t, sigilerr.IsInvalidInput(err))

	_, err = vs.Search(ctx, []float32{1, 0, 0, 0}, 1)
	assert.True(t, sigilerr.IsInvalidInput(err))

	_, err = vs.Search(ctx, []float32{1, 0, 0}, 0)
	assert.True(t, sigilerr.IsInvalidInput(err))
}

func TestVectorStore_Payloads(t *testing.T) {
	ctx := context.Background()
	vs := testVectors(t)

	indexed, missing := uuid.New(), uuid.New()
	require.NoError(t, vs.Upsert(ctx, []store.VectorEntry{
		{NodeID: indexed, Embedding: []float32{1, 0, 0}, Payload: map[string]any{store.PayloadUpdatedAt: "2024-05-01T09:00:00Z"}},
	}))

	got, err := vs.Payloads(ctx, []uuid.UUID{indexed, missing})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-05-01T09:00:00Z", got[indexed][store.PayloadUpdatedAt])
	assert.NotContains(t, got, missing)
}
