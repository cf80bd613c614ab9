// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package retrieval_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/graph"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/retrieval"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/internal/store/sqlite"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeEmbedder returns a fixed vector, or err when set.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, req provider.EmbedRequest) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(req.Texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

// fakeGenerator streams tokens. With endless set it keeps producing until
// the context ends; with stall it never sends anything.
type fakeGenerator struct {
	tokens   []string
	failWith string
	endless  bool
	stall    bool

	mu       sync.Mutex
	requests []provider.ChatRequest
	stopped  chan struct{}
}

func (g *fakeGenerator) Chat(ctx context.Context, _ string, req provider.ChatRequest) (<-chan provider.ChatEvent, string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	ch := make(chan provider.ChatEvent)
	go func() {
		defer close(ch)
		if g.stopped != nil {
			defer close(g.stopped)
		}
		if g.stall {
			<-ctx.Done()
			return
		}
		for i := 0; g.endless || i < len(g.tokens); i++ {
			text := "tok"
			if i < len(g.tokens) {
				text = g.tokens[i]
			}
			if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: text}) {
				return
			}
		}
		if g.failWith != "" {
			provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: g.failWith})
			return
		}
		provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone})
	}()
	return ch, "fake/model", nil
}

func (g *fakeGenerator) lastRequest() provider.ChatRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type fixture struct {
	graph   store.GraphStore
	vectors store.VectorStore
	nodes   map[int64]*store.Node
}

// newFixture stores posts 1..20, links 10 to 5 by reply and 11 to 10 by
// sequence, and indexes post 10 at [1 0 0].
func newFixture(t *testing.T, indexed bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	gs, err := sqlite.NewGraphStore(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Close() })

	vs, err := sqlite.NewVectorStore(filepath.Join(dir, "vectors.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	var nodes []*store.Node
	for seq := int64(1); seq <= 20; seq++ {
		nodes = append(nodes, &store.Node{
			SequenceNo:  seq,
			AuthorLabel: "名無しさん",
			Content:     "本文",
			Timestamp:   baseTime.Add(time.Duration(seq) * time.Minute),
		})
	}
	_, err = gs.Nodes().UpsertNodes(ctx, nodes)
	require.NoError(t, err)
	bySeq := make(map[int64]*store.Node)
	for _, n := range nodes {
		bySeq[n.SequenceNo] = n
	}

	_, err = gs.Edges().PutEdges(ctx, []*store.Edge{
		store.NewEdge(bySeq[10].ID, bySeq[5].ID, store.EdgeReplyTo, map[string]any{store.PropConfidence: 0.9}),
		store.NewEdge(bySeq[10].ID, bySeq[11].ID, store.EdgeSequentialTo, map[string]any{store.PropDistance: 1}),
	})
	require.NoError(t, err)

	if indexed {
		require.NoError(t, vs.Upsert(ctx, []store.VectorEntry{
			{NodeID: bySeq[10].ID, Embedding: []float32{1, 0, 0}, Payload: store.PayloadFor(bySeq[10])},
		}))
	}
	return &fixture{graph: gs, vectors: vs, nodes: bySeq}
}

func (f *fixture) workflow(t *testing.T, emb provider.Embedder, gen retrieval.Generator, mutate ...func(*retrieval.WorkflowConfig)) *retrieval.Workflow {
	t.Helper()
	cfg := retrieval.WorkflowConfig{
		Embedder:  emb,
		Vectors:   f.vectors,
		Traverser: graph.NewTraverser(f.graph.Nodes(), f.graph.Edges(), retry.Policy{}),
		Generator: gen,
		Traversal: graph.Options{MaxHops: 1, MaxNodes: 50, PreferReplies: true},
		Timeouts:  retrieval.DefaultTimeouts(),
		ReadPolicy: retry.Policy{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	wf, err := retrieval.NewWorkflow(cfg)
	require.NoError(t, err)
	return wf
}

// collect drains a stream with a deadline.
func collect(t *testing.T, s *retrieval.Stream) []retrieval.Event {
	t.Helper()
	var events []retrieval.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func types(events []retrieval.Event) []retrieval.EventType {
	out := make([]retrieval.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

var errUpstream = sigilerr.New(sigilerr.CodeProviderUpstreamFailure, "embedding endpoint returned 500 for key sk-secret")
