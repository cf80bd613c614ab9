// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/internal/store/sqlite"
)

// testDir creates a temp directory for a test and returns cleanup func.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bbsgraph-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testDir(t), name+".db")
}

// testGraph opens a fresh graph store closed at test end.
func testGraph(t *testing.T) store.GraphStore {
	t.Helper()
	gs, err := sqlite.NewGraphStore(testDBPath(t, "graph"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Close() })
	return gs
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// posts builds nodes numbered from..to, one minute apart.
func posts(from, to int64) []*store.Node {
	var nodes []*store.Node
	for seq := from; seq <= to; seq++ {
		nodes = append(nodes, &store.Node{
			SequenceNo:  seq,
			AuthorLabel: "名無しさん",
			Content:     "post body",
			Timestamp:   baseTime.Add(time.Duration(seq) * time.Minute),
		})
	}
	return nodes
}
