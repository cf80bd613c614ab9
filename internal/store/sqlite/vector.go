// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore implements store.VectorStore backed by SQLite with sqlite-vec.
// Embeddings live in a vec0 virtual table; payloads in a companion table.
type VectorStore struct {
	db         *sql.DB
	dimensions int
}

// NewVectorStore opens (or creates) a SQLite database at dbPath and
// initialises the vec0 virtual table and companion payload table.
func NewVectorStore(dbPath string, dimensions int) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "vector dimensions must be positive, got %d", dimensions)
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateVector(db, dimensions); err != nil {
		_ = db.Close()
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "migrating vector tables: %w", err)
	}

	return &VectorStore{db: db, dimensions: dimensions}, nil
}

func migrateVector(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS node_vectors USING vec0(node_id TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating node_vectors virtual table: %w", err)
	}

	const payloadDDL = `
CREATE TABLE IF NOT EXISTS node_vector_payloads (
	node_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL DEFAULT '{}'
)`
	if _, err := db.Exec(payloadDDL); err != nil {
		return fmt.Errorf("creating node_vector_payloads table: %w", err)
	}

	return nil
}

// Dimensions returns the embedding width the index was created with.
func (v *VectorStore) Dimensions() int {
	return v.dimensions
}

// Upsert inserts or replaces the vectors and payloads in one transaction.
func (v *VectorStore) Upsert(ctx context.Context, entries []store.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const payloadQ = `INSERT INTO node_vector_payloads (node_id, payload) VALUES (?, ?)
ON CONFLICT(node_id) DO UPDATE SET payload = excluded.payload`

	for _, e := range entries {
		if len(e.Embedding) != v.dimensions {
			return sigilerr.New(sigilerr.CodeStoreVectorDimensionMismatch, "embedding has wrong dimensions",
				sigilerr.FieldNodeID(e.NodeID),
				sigilerr.Field("want", v.dimensions),
				sigilerr.Field("got", len(e.Embedding)))
		}

		blob, err := sqlite_vec.SerializeFloat32(e.Embedding)
		if err != nil {
			return sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "serializing embedding: %w", err)
		}

		payload := []byte("{}")
		if len(e.Payload) > 0 {
			payload, err = json.Marshal(e.Payload)
			if err != nil {
				return sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "marshalling payload: %w", err)
			}
		}

		id := e.NodeID.String()
		// vec0 does not support ON CONFLICT; delete first for upsert.
		if _, err := tx.ExecContext(ctx, `DELETE FROM node_vectors WHERE node_id = ?`, id); err != nil {
			return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "deleting existing vector %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO node_vectors (node_id, embedding) VALUES (?, ?)`, id, blob); err != nil {
			return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "inserting vector %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, payloadQ, id, string(payload)); err != nil {
			return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "upserting vector payload %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "committing vectors: %w", err)
	}
	return nil
}

// Search performs a k-nearest-neighbor search and returns results with payloads.
func (v *VectorStore) Search(ctx context.Context, query []float32, k int) ([]store.VectorResult, error) {
	if k <= 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "search k must be positive, got %d", k)
	}
	if len(query) != v.dimensions {
		return nil, sigilerr.New(sigilerr.CodeStoreVectorDimensionMismatch, "query has wrong dimensions",
			sigilerr.Field("want", v.dimensions),
			sigilerr.Field("got", len(query)))
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "serializing query vector: %w", err)
	}

	const q = `SELECT v.node_id, v.distance, COALESCE(p.payload, '{}')
FROM node_vectors v
LEFT JOIN node_vector_payloads p ON p.node_id = v.node_id
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`

	rows, err := v.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "searching vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []store.VectorResult
	for rows.Next() {
		var r store.VectorResult
		var payload string

		if err := rows.Scan(&r.NodeID, &r.Distance, &payload); err != nil {
			return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "scanning vector result: %w", err)
		}

		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
				return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "unmarshalling vector payload: %w", err)
			}
		}

		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "iterating vector results: %w", err)
	}

	return results, nil
}

func (v *VectorStore) Payloads(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]map[string]any, error) {
	out := make(map[uuid.UUID]map[string]any, len(ids))
	for _, chunk := range chunkIDs(ids) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		rows, err := v.db.QueryContext(ctx,
			`SELECT node_id, payload FROM node_vector_payloads WHERE node_id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "querying vector payloads: %w", err)
		}
		for rows.Next() {
			var (
				id  uuid.UUID
				raw string
			)
			if err := rows.Scan(&id, &raw); err != nil {
				_ = rows.Close()
				return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "scanning vector payload: %w", err)
			}
			payload := make(map[string]any)
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				_ = rows.Close()
				return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "decoding vector payload %s: %w", id, err)
			}
			out[id] = payload
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "iterating vector payloads: %w", err)
		}
	}
	return out, nil
}

// Delete removes vectors and their payloads by node ID.
func (v *VectorStore) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, chunk := range chunkIDs(ids) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		in := placeholders(len(chunk))

		if _, err := tx.ExecContext(ctx, `DELETE FROM node_vectors WHERE node_id IN (`+in+`)`, args...); err != nil {
			return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "deleting vectors: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM node_vector_payloads WHERE node_id IN (`+in+`)`, args...); err != nil {
			return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "deleting vector payloads: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "committing vector delete: %w", err)
	}
	return nil
}

// Reset empties the index.
func (v *VectorStore) Reset(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_vectors`); err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "clearing vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM node_vector_payloads`); err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "clearing vector payloads: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "committing vector reset: %w", err)
	}
	return nil
}

func (v *VectorStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_vector_payloads`).Scan(&n); err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "counting vectors: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (v *VectorStore) Close() error {
	return v.db.Close()
}
