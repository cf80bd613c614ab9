// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package graph expands seed posts into a conversation neighbourhood and
// renders it as a bounded prompt context.
package graph

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Options bounds a traversal.
type Options struct {
	MaxHops  int
	MaxNodes int
	// PreferReplies admits REPLY_TO neighbours before SEQUENTIAL_TO ones
	// when the node cap cuts a hop short.
	PreferReplies bool
}

// DefaultOptions returns 3 hops, 50 nodes, replies first.
func DefaultOptions() Options {
	return Options{MaxHops: 3, MaxNodes: 50, PreferReplies: true}
}

// Visit is a node reached by a traversal. Via is the edge type that first
// reached it; empty for seeds.
type Visit struct {
	Node *store.Node
	Hop  int
	Via  store.EdgeType
}

// Traverser runs breadth-first searches over the knowledge graph.
type Traverser struct {
	nodes  store.NodeStore
	edges  store.EdgeStore
	policy retry.Policy
}

// NewTraverser returns a Traverser whose store reads are retried under
// policy. A zero policy makes a single attempt.
func NewTraverser(nodes store.NodeStore, edges store.EdgeStore, policy retry.Policy) *Traverser {
	return &Traverser{nodes: nodes, edges: edges, policy: policy}
}

// Traverse walks edges in both directions from seeds, hop by hop, visiting
// each node once and stopping at opts.MaxHops or opts.MaxNodes. Seeds that
// do not exist are ignored; when there are more seeds than MaxNodes the
// first ones win. The result is ordered by hop, timestamp, sequence number.
func (t *Traverser) Traverse(ctx context.Context, seeds []uuid.UUID, opts Options) ([]Visit, error) {
	if opts.MaxHops < 0 || opts.MaxNodes <= 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeGraphTraverseInvalid,
			"traversal needs max_hops >= 0 and max_nodes > 0, got %d and %d", opts.MaxHops, opts.MaxNodes)
	}

	seedIDs := dedupe(seeds)
	if len(seedIDs) == 0 {
		return nil, nil
	}

	found, err := retry.Do(ctx, t.policy, retry.Transient, func(ctx context.Context) ([]*store.Node, error) {
		return t.nodes.GetNodes(ctx, seedIDs)
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*store.Node, len(found))
	for _, n := range found {
		byID[n.ID] = n
	}

	visited := make(map[uuid.UUID]bool)
	var (
		visits   []Visit
		frontier []uuid.UUID
	)
	for _, id := range seedIDs {
		n, ok := byID[id]
		if !ok || len(visits) >= opts.MaxNodes {
			continue
		}
		visited[id] = true
		visits = append(visits, Visit{Node: n})
		frontier = append(frontier, id)
	}

	for hop := 1; hop <= opts.MaxHops && len(frontier) > 0 && len(visits) < opts.MaxNodes; hop++ {
		adj, err := retry.Do(ctx, t.policy, retry.Transient, func(ctx context.Context) ([]store.Adjacency, error) {
			return t.edges.Neighbors(ctx, frontier)
		})
		if err != nil {
			return nil, err
		}

		next := candidates(adj, visited)
		sortCandidates(next, opts.PreferReplies)
		next = next[:min(len(next), opts.MaxNodes-len(visits))]

		frontier = frontier[:0:0]
		for _, c := range next {
			visited[c.node.ID] = true
			visits = append(visits, Visit{Node: c.node, Hop: hop, Via: c.via})
			frontier = append(frontier, c.node.ID)
		}
	}

	slices.SortStableFunc(visits, func(a, b Visit) int {
		return cmp.Or(
			cmp.Compare(a.Hop, b.Hop),
			a.Node.Timestamp.Compare(b.Node.Timestamp),
			cmp.Compare(a.Node.SequenceNo, b.Node.SequenceNo),
		)
	})
	return visits, nil
}

type candidate struct {
	node *store.Node
	via  store.EdgeType
}

// candidates returns the unvisited neighbours in adj, once each. A node
// reached by both edge types counts as reached by REPLY_TO.
func candidates(adj []store.Adjacency, visited map[uuid.UUID]bool) []candidate {
	index := make(map[uuid.UUID]int)
	var out []candidate
	for _, a := range adj {
		if a.Neighbor == nil || visited[a.Neighbor.ID] {
			continue
		}
		if i, ok := index[a.Neighbor.ID]; ok {
			if a.Edge.Type == store.EdgeReplyTo {
				out[i].via = store.EdgeReplyTo
			}
			continue
		}
		index[a.Neighbor.ID] = len(out)
		out = append(out, candidate{node: a.Neighbor, via: a.Edge.Type})
	}
	return out
}

func sortCandidates(cs []candidate, preferReplies bool) {
	slices.SortFunc(cs, func(a, b candidate) int {
		if preferReplies && a.via != b.via {
			if a.via == store.EdgeReplyTo {
				return -1
			}
			if b.via == store.EdgeReplyTo {
				return 1
			}
		}
		return cmp.Or(
			a.node.Timestamp.Compare(b.node.Timestamp),
			cmp.Compare(a.node.SequenceNo, b.node.SequenceNo),
		)
	})
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
