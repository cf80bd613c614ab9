// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", newGraphStore, newVectorStore)
}

// NewGraphStore opens graph.db at dbPath and returns the node, edge and
// watermark stores sharing one connection pool.
func NewGraphStore(dbPath string) (store.GraphStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateGraph(db); err != nil {
		_ = db.Close()
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "migrating graph tables: %w", err)
	}

	return store.NewCompositeGraphStore(
		NewNodeStoreWithDB(db),
		NewEdgeStoreWithDB(db),
		NewWatermarkStoreWithDB(db),
		db,
	), nil
}

func newGraphStore(dataDir string) (store.GraphStore, error) {
	if err := ensureDir(dataDir); err != nil {
		return nil, err
	}
	return NewGraphStore(filepath.Join(dataDir, "graph.db"))
}

func newVectorStore(dataDir string, vectorDims int) (store.VectorStore, error) {
	if err := ensureDir(dataDir); err != nil {
		return nil, err
	}
	return NewVectorStore(filepath.Join(dataDir, "vectors.db"), vectorDims)
}

func ensureDir(dir string) error {
	if dir == "" {
		return sigilerr.New(sigilerr.CodeStoreInvalidInput, "storage data directory is not set")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "creating data dir %s: %w", dir, err)
	}
	return nil
}
