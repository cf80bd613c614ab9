// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"errors"
	"io"
	"sync"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// defaultVectorDimensions matches OpenAI text-embedding-3-small.
const defaultVectorDimensions = 1536

// StorageConfig selects the backend and locates its files.
type StorageConfig struct {
	Backend          string // empty means sqlite
	DataDir          string // holds graph.db and vectors.db
	VectorDimensions int
}

// GraphStoreFactory opens the knowledge graph stores under dataDir.
type GraphStoreFactory func(dataDir string) (GraphStore, error)

// VectorStoreFactory opens the vector index under dataDir.
type VectorStoreFactory func(dataDir string, vectorDims int) (VectorStore, error)

var (
	graphFactories  = map[string]GraphStoreFactory{}
	vectorFactories = map[string]VectorStoreFactory{}
	factoriesMu     sync.RWMutex
)

// RegisterBackend registers factory functions for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, gs GraphStoreFactory, vs VectorStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	graphFactories[name] = gs
	vectorFactories[name] = vs
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// NewGraphStore opens the node, edge and watermark stores.
func NewGraphStore(cfg *StorageConfig) (GraphStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := graphFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return factory(cfg.DataDir)
}

// NewVectorStore opens the vector index.
func NewVectorStore(cfg *StorageConfig) (VectorStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := vectorFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	dims := defaultVectorDimensions
	if cfg.VectorDimensions > 0 {
		dims = cfg.VectorDimensions
	}

	return factory(cfg.DataDir, dims)
}

// compositeGraphStore satisfies GraphStore by composing three sub-stores.
type compositeGraphStore struct {
	nodes      NodeStore
	edges      EdgeStore
	watermarks WatermarkStore
	closers    []io.Closer // additional resources to close (e.g. shared DB connections)
}

// NewCompositeGraphStore creates a GraphStore from individual sub-stores.
// Additional closers (e.g. shared database connections) are closed after
// the sub-stores during Close().
func NewCompositeGraphStore(nodes NodeStore, edges EdgeStore, wm WatermarkStore, closers ...io.Closer) GraphStore {
	return &compositeGraphStore{
		nodes:      nodes,
		edges:      edges,
		watermarks: wm,
		closers:    closers,
	}
}

func (c *compositeGraphStore) Nodes() NodeStore           { return c.nodes }
func (c *compositeGraphStore) Edges() EdgeStore           { return c.edges }
func (c *compositeGraphStore) Watermarks() WatermarkStore { return c.watermarks }

func (c *compositeGraphStore) Close() error {
	var errs []error
	if err := c.nodes.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.edges.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.watermarks.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
