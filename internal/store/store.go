// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NodeStore persists post nodes. Nodes are never deleted.
type NodeStore interface {
	// UpsertNodes inserts nodes keyed by SequenceNo. Existing nodes keep their
	// ID and CreatedAt; UpdatedAt only moves when author or content changed.
	// ID, CreatedAt and UpdatedAt are filled in on the passed nodes.
	// Returns the number of newly created nodes.
	UpsertNodes(ctx context.Context, nodes []*Node) (int, error)

	// GetNodes returns the nodes for ids. Unknown ids are omitted.
	GetNodes(ctx context.Context, ids []uuid.UUID) ([]*Node, error)

	// NodesBySequence resolves sequence numbers. Unknown numbers are absent
	// from the returned map.
	NodesBySequence(ctx context.Context, seqs []int64) (map[int64]*Node, error)

	// ListNodes returns up to limit nodes with SequenceNo > afterSeq in
	// ascending order.
	ListNodes(ctx context.Context, afterSeq int64, limit int) ([]*Node, error)

	// ChangedNodes returns up to limit nodes with afterSeq < SequenceNo <=
	// maxSeq whose author or content changed after creation, in ascending
	// order.
	ChangedNodes(ctx context.Context, afterSeq, maxSeq int64, limit int) ([]*Node, error)

	// PrecedingNodes returns the limit nodes immediately before beforeSeq,
	// in ascending order.
	PrecedingNodes(ctx context.Context, beforeSeq int64, limit int) ([]*Node, error)

	CountNodes(ctx context.Context) (int64, error)
	Close() error
}

// EdgeStore persists typed edges between nodes.
type EdgeStore interface {
	// PutEdges inserts edges, ignoring ones whose ID already exists.
	// An edge naming a node that does not exist fails the whole call with
	// an integrity violation. Returns the number of newly created edges.
	PutEdges(ctx context.Context, edges []*Edge) (int, error)

	// Neighbors returns every edge incident to ids in either direction,
	// optionally restricted to types, with the node on the far side.
	Neighbors(ctx context.Context, ids []uuid.UUID, types ...EdgeType) ([]Adjacency, error)

	// CountEdges counts edges of typ, or of every type when typ is empty.
	CountEdges(ctx context.Context, typ EdgeType) (int64, error)
	Close() error
}

// WatermarkStore tracks job progress and job leases.
type WatermarkStore interface {
	// GetWatermark never returns nil. An unknown name yields an unset
	// watermark with Version 0.
	GetWatermark(ctx context.Context, name string) (*Watermark, error)

	// AdvanceWatermark moves the watermark to seq if the stored version still
	// equals expectedVersion. The stored value never decreases. A version
	// mismatch returns a conflict.
	AdvanceWatermark(ctx context.Context, name string, seq int64, expectedVersion int64) (*Watermark, error)

	// ResetWatermark clears progress so the next run starts from scratch.
	ResetWatermark(ctx context.Context, name string) error

	// AcquireLease claims name for owner until now+ttl. Succeeds when the
	// lease is free, expired, or already held by owner; otherwise returns
	// a conflict.
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (*Lease, error)

	// ReleaseLease drops the lease if owner still holds it.
	ReleaseLease(ctx context.Context, name, owner string) error
	Close() error
}

// GraphStore groups the knowledge graph sub-stores that share one database.
type GraphStore interface {
	Nodes() NodeStore
	Edges() EdgeStore
	Watermarks() WatermarkStore
	Close() error
}
