// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package graphsync

import (
	"context"

	"github.com/sigil-dev/bbsgraph/internal/archive"
	"github.com/sigil-dev/bbsgraph/internal/inference"
	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// batchResult counts what one batch created. skipped holds non-fatal
// errors for inference output that was dropped.
type batchResult struct {
	nodes      int
	reply      int
	sequential int
	skipped    []error
}

func (e *Engine) processBatch(ctx context.Context, posts []archive.Post) (batchResult, error) {
	var res batchResult

	nodes := make([]*store.Node, 0, len(posts))
	for _, p := range posts {
		nodes = append(nodes, nodeFromPost(p))
	}

	created, err := e.graph.Nodes().UpsertNodes(ctx, nodes)
	if err != nil {
		return res, err
	}
	res.nodes = created

	preceding, err := e.graph.Nodes().PrecedingNodes(ctx, nodes[0].SequenceNo, max(e.sequentialWindow, e.contextWindow))
	if err != nil {
		return res, err
	}

	seqEdges := sequentialEdges(tail(preceding, e.sequentialWindow), nodes, e.sequentialWindow)
	if res.sequential, err = e.graph.Edges().PutEdges(ctx, seqEdges); err != nil {
		return res, err
	}

	replyEdges, skipped, err := e.inferReplies(ctx, preceding, nodes)
	res.skipped = skipped
	if err != nil {
		return res, err
	}
	if res.reply, err = e.graph.Edges().PutEdges(ctx, replyEdges); err != nil {
		return res, err
	}
	return res, nil
}

func nodeFromPost(p archive.Post) *store.Node {
	return &store.Node{
		SequenceNo:  p.SequenceNo,
		AuthorLabel: p.AuthorLabel,
		Content:     p.Text,
		Timestamp:   p.Timestamp,
	}
}

// sequentialEdges links every node of ordered = preceding+batch to the next
// k nodes. Pairs that lie entirely inside preceding were written by an
// earlier batch and are left out.
func sequentialEdges(preceding, batch []*store.Node, k int) []*store.Edge {
	ordered := make([]*store.Node, 0, len(preceding)+len(batch))
	ordered = append(ordered, preceding...)
	ordered = append(ordered, batch...)
	first := len(preceding)

	var edges []*store.Edge
	for i, src := range ordered {
		for j := max(i+1, first); j < len(ordered) && j <= i+k; j++ {
			dst := ordered[j]
			edges = append(edges, store.NewEdge(src.ID, dst.ID, store.EdgeSequentialTo, map[string]any{
				store.PropDistance: dst.SequenceNo - src.SequenceNo,
			}))
		}
	}
	return edges
}

// inferReplies runs the inferrer over the batch in chunks. Each chunk sees
// the contextWindow posts before its first target. An invalid response skips
// only what the failing inferrer would have produced; triples from the rest
// are still used. Triples naming unknown posts or pointing the wrong way are
// skipped. All of these are returned as non-fatal errors; any other
// inference error fails the batch.
func (e *Engine) inferReplies(ctx context.Context, preceding, batch []*store.Node) ([]*store.Edge, []error, error) {
	if e.inferrer == nil {
		return nil, nil, nil
	}

	known := make(map[int64]*store.Node, len(preceding)+len(batch))
	for _, n := range preceding {
		known[n.SequenceNo] = n
	}
	for _, n := range batch {
		known[n.SequenceNo] = n
	}

	var (
		edges   []*store.Edge
		skipped []error
	)
	for start := 0; start < len(batch); start += e.chunkSize {
		end := min(start+e.chunkSize, len(batch))
		window := inference.Window{
			Context: contextBefore(preceding, batch[:start], e.contextWindow),
			Targets: batch[start:end],
		}

		triples, err := e.inferrer.InferReplies(ctx, window)
		if err != nil {
			if !sigilerr.IsInvalidResponse(err) {
				return nil, skipped, err
			}
			e.logger.Warn("invalid reply inference response for chunk",
				"from", window.Targets[0].SequenceNo,
				"to", window.Targets[len(window.Targets)-1].SequenceNo,
				"kept", len(triples),
				"error", err)
			e.metrics.SyncSkipped("invalid_response", len(window.Targets))
			skipped = append(skipped, err)
		}

		if err := e.resolveMissing(ctx, known, triples); err != nil {
			return nil, skipped, err
		}

		isTarget := make(map[int64]bool, len(window.Targets))
		for _, n := range window.Targets {
			isTarget[n.SequenceNo] = true
		}

		rejected := 0
		for _, t := range triples {
			if err := checkTriple(t, known, isTarget); err != nil {
				reason := "invalid_triple"
				if sigilerr.IsIntegrityViolation(err) {
					reason = "missing_node"
				}
				e.logger.Warn("skipping reply edge", "source_no", t.SourceNo, "target_no", t.TargetNo, "error", err)
				e.metrics.SyncSkipped(reason, 1)
				skipped = append(skipped, err)
				continue
			}
			if !e.accept(t) {
				rejected++
				continue
			}
			edges = append(edges, store.NewEdge(known[t.SourceNo].ID, known[t.TargetNo].ID, store.EdgeReplyTo, map[string]any{
				store.PropConfidence: t.Confidence,
				store.PropModel:      t.Model,
			}))
		}
		e.metrics.SyncSkipped("policy", rejected)
	}
	return edges, skipped, nil
}

// checkTriple rejects a triple that names a post with no node, whose source
// is not a target of the window, whose target is later than its source, or
// whose confidence is outside [0, 1]. Self loops pass here and are dropped by
// the policy.
func checkTriple(t inference.Triple, known map[int64]*store.Node, isTarget map[int64]bool) error {
	fields := []sigilerr.Attr{
		sigilerr.Field("source_no", t.SourceNo),
		sigilerr.Field("target_no", t.TargetNo),
	}
	for _, seq := range []int64{t.SourceNo, t.TargetNo} {
		if _, ok := known[seq]; !ok {
			return sigilerr.New(sigilerr.CodeStoreEdgeIntegrityViolation, "reply names a post with no node",
				append(fields, sigilerr.FieldSequenceNo(seq))...)
		}
	}
	if t.SourceNo != t.TargetNo && (!isTarget[t.SourceNo] || t.TargetNo > t.SourceNo) {
		return sigilerr.New(sigilerr.CodeInferenceResponseInvalid,
			"reply must point from a target post to an earlier post", fields...)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return sigilerr.New(sigilerr.CodeInferenceResponseInvalid, "reply confidence outside [0, 1]",
			append(fields, sigilerr.Field("confidence", t.Confidence))...)
	}
	return nil
}

// accept applies the acceptance policy. A triple whose expression fails to
// evaluate is dropped.
func (e *Engine) accept(t inference.Triple) bool {
	ok, err := e.policy.Accept(t)
	if err != nil {
		e.logger.Warn("reply policy evaluation failed", "source_no", t.SourceNo, "target_no", t.TargetNo, "error", err)
	}
	return ok
}

// resolveMissing loads nodes for triple endpoints outside the preloaded
// context.
func (e *Engine) resolveMissing(ctx context.Context, known map[int64]*store.Node, triples []inference.Triple) error {
	var seqs []int64
	seen := make(map[int64]bool)
	for _, t := range triples {
		for _, s := range []int64{t.SourceNo, t.TargetNo} {
			if _, ok := known[s]; ok || seen[s] {
				continue
			}
			seen[s] = true
			seqs = append(seqs, s)
		}
	}
	if len(seqs) == 0 {
		return nil
	}

	found, err := e.graph.Nodes().NodesBySequence(ctx, seqs)
	if err != nil {
		return err
	}
	for seq, n := range found {
		known[seq] = n
	}
	return nil
}

// contextBefore returns the last n nodes of preceding followed by earlier.
func contextBefore(preceding, earlier []*store.Node, n int) []*store.Node {
	if len(earlier) >= n {
		return earlier[len(earlier)-n:]
	}
	out := make([]*store.Node, 0, n)
	out = append(out, tail(preceding, n-len(earlier))...)
	out = append(out, earlier...)
	return out
}

func tail(nodes []*store.Node, n int) []*store.Node {
	if len(nodes) <= n {
		return nodes
	}
	return nodes[len(nodes)-n:]
}
