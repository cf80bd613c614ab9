// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package graphsync_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/archive"
	"github.com/sigil-dev/bbsgraph/internal/graphsync"
	"github.com/sigil-dev/bbsgraph/internal/inference"
	"github.com/sigil-dev/bbsgraph/internal/lease"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/internal/store/sqlite"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeArchive serves posts from memory. failReads makes the next reads fail
// with a transient archive error.
type fakeArchive struct {
	mu        sync.Mutex
	posts     []archive.Post
	failReads int
	froms     []int64
}

func newFakeArchive(from, to int64) *fakeArchive {
	a := &fakeArchive{}
	a.add(from, to)
	return a
}

func (a *fakeArchive) add(from, to int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for seq := from; seq <= to; seq++ {
		a.posts = append(a.posts, archive.Post{
			SequenceNo:  seq,
			AuthorLabel: "名無しさん",
			Timestamp:   baseTime.Add(time.Duration(seq) * time.Minute),
			Text:        "post body",
		})
	}
}

func (a *fakeArchive) Fetch(_ context.Context, fromSeq int64, limit int) ([]archive.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.froms = append(a.froms, fromSeq)
	if a.failReads > 0 {
		a.failReads--
		return nil, sigilerr.New(sigilerr.CodeArchiveReadFailure, "connection reset")
	}
	var out []archive.Post
	for _, p := range a.posts {
		if p.SequenceNo >= fromSeq && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (a *fakeArchive) Latest(context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.posts) == 0 {
		return 0, nil
	}
	return a.posts[len(a.posts)-1].SequenceNo, nil
}

func (a *fakeArchive) Close() error { return nil }

func (a *fakeArchive) fetchedFrom() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.froms...)
}

// previousPost infers that every target replies to the post before it.
func previousPost(confidence float64) inference.Inferrer {
	return inference.InferrerFunc(func(_ context.Context, w inference.Window) ([]inference.Triple, error) {
		var out []inference.Triple
		for _, n := range w.Targets {
			if n.SequenceNo > 1 {
				out = append(out, inference.Triple{
					SourceNo: n.SequenceNo, TargetNo: n.SequenceNo - 1, Confidence: confidence, Model: "fake/model",
				})
			}
		}
		return out, nil
	})
}

// cannedChat answers every inference call with the same text.
type cannedChat string

func (c cannedChat) Chat(context.Context, string, provider.ChatRequest) (<-chan provider.ChatEvent, string, error) {
	ch := make(chan provider.ChatEvent, 2)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: string(c)}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, "fake/model", nil
}

func testGraph(t *testing.T) store.GraphStore {
	t.Helper()
	gs, err := sqlite.NewGraphStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Close() })
	return gs
}

func newEngine(t *testing.T, src archive.Reader, gs store.GraphStore, inf inference.Inferrer, mutate ...func(*graphsync.EngineConfig)) *graphsync.Engine {
	t.Helper()
	cfg := graphsync.EngineConfig{
		Source:   src,
		Graph:    gs,
		Leases:   lease.NewStoreManager(gs.Watermarks()),
		Inferrer: inf,
		Owner:    "test-owner",
		ReadPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	eng, err := graphsync.NewEngine(cfg)
	require.NoError(t, err)
	return eng
}
