// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"time"

	"github.com/google/uuid"
)

// --- Node types ---

// Node is one synchronized forum post. SequenceNo is the post number in
// the source archive and is unique across the graph.
type Node struct {
	ID          uuid.UUID
	SequenceNo  int64
	AuthorLabel string
	Content     string
	Timestamp   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// --- Edge types ---

// EdgeType identifies the relationship an edge encodes.
type EdgeType string

const (
	// EdgeReplyTo points from a reply to the post it answers. Inferred.
	EdgeReplyTo EdgeType = "REPLY_TO"
	// EdgeSequentialTo points from a post to one of the next K posts by
	// sequence number. Structural.
	EdgeSequentialTo EdgeType = "SEQUENTIAL_TO"
)

// Edge property keys.
const (
	PropConfidence = "confidence"
	PropModel      = "model"
	PropDistance   = "distance"
)

// Edge is a typed, directed relationship between two nodes.
type Edge struct {
	ID         uuid.UUID
	SourceID   uuid.UUID
	TargetID   uuid.UUID
	Type       EdgeType
	Properties map[string]any
	CreatedAt  time.Time
}

// edgeNamespace seeds deterministic edge IDs.
var edgeNamespace = uuid.MustParse("6b1f3c1e-5d0a-4c44-9a8e-2f4e9d1b7a10")

// EdgeID returns the deterministic ID for an edge. Re-processing the same
// (source, target, type) always yields the same ID, which keeps edge
// writes idempotent.
func EdgeID(source, target uuid.UUID, typ EdgeType) uuid.UUID {
	return uuid.NewSHA1(edgeNamespace, []byte(source.String()+"|"+target.String()+"|"+string(typ)))
}

// NewEdge builds an edge with its deterministic ID.
func NewEdge(source, target uuid.UUID, typ EdgeType, props map[string]any) *Edge {
	return &Edge{
		ID:         EdgeID(source, target, typ),
		SourceID:   source,
		TargetID:   target,
		Type:       typ,
		Properties: props,
	}
}

// Direction tells which side of an edge the queried node was on.
type Direction int

const (
	// Outgoing means the queried node is the edge source.
	Outgoing Direction = iota
	// Incoming means the queried node is the edge target.
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Adjacency is one edge incident to a queried node together with the node
// on the other end.
type Adjacency struct {
	From      uuid.UUID
	Edge      *Edge
	Neighbor  *Node
	Direction Direction
}

// --- Watermark types ---

// Watermark names.
const (
	WatermarkSync  = "sync"
	WatermarkIndex = "index"
)

// Watermark records the highest sequence number a job has fully processed.
// Version is bumped by every write and guards compare-and-swap advances.
type Watermark struct {
	Name           string
	LastSequenceNo int64
	LastRunAt      time.Time
	Version        int64
}

// IsSet reports whether any run has advanced the watermark yet.
func (w *Watermark) IsSet() bool {
	return w != nil && !w.LastRunAt.IsZero()
}

// Lease is a time-bounded claim on a named job.
type Lease struct {
	Name      string
	Owner     string
	ExpiresAt time.Time
}

// --- Vector types ---

// VectorEntry is one embedding in the vector index, keyed by node ID.
type VectorEntry struct {
	NodeID    uuid.UUID
	Embedding []float32
	Payload   map[string]any
}

// VectorResult is a single similarity search hit.
// Distance is lower for closer vectors; 0.0 is an exact match.
type VectorResult struct {
	NodeID   uuid.UUID
	Distance float64
	Payload  map[string]any
}

// PayloadUpdatedAt is the payload key recording which version of the node
// was embedded.
const PayloadUpdatedAt = "updated_at"

// PayloadFor builds the vector payload stored alongside a node embedding.
func PayloadFor(n *Node) map[string]any {
	return map[string]any{
		"post_id":        n.ID.String(),
		"sequence_no":    n.SequenceNo,
		"author_label":   n.AuthorLabel,
		"timestamp":      n.Timestamp.UTC().Format(time.RFC3339),
		PayloadUpdatedAt: n.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
