// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"

	"github.com/google/uuid"
)

// VectorStore is the embedding index over node contents. It is a derived
// cache: everything in it can be rebuilt from the NodeStore.
type VectorStore interface {
	// Upsert replaces the embedding and payload for each entry.
	Upsert(ctx context.Context, entries []VectorEntry) error
	// Search returns the k nearest entries to query, closest first.
	Search(ctx context.Context, query []float32, k int) ([]VectorResult, error)
	// Payloads returns the stored payload of each id. Ids with no entry are
	// absent from the map.
	Payloads(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]map[string]any, error)
	Delete(ctx context.Context, ids []uuid.UUID) error
	// Reset removes every entry.
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	Dimensions() int
	Close() error
}
