// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Compile-time interface check.
var _ store.EdgeStore = (*EdgeStore)(nil)

// EdgeStore implements store.EdgeStore on the shared graph database.
// Endpoint existence is enforced by the nodes foreign keys.
type EdgeStore struct {
	db *sql.DB
}

// NewEdgeStoreWithDB returns an EdgeStore using an already migrated db.
func NewEdgeStoreWithDB(db *sql.DB) *EdgeStore {
	return &EdgeStore{db: db}
}

func (s *EdgeStore) PutEdges(ctx context.Context, edges []*store.Edge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO edges (id, source_id, target_id, type, properties, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

	now := time.Now().UTC()
	created := 0
	for _, e := range edges {
		props := []byte("{}")
		if len(e.Properties) > 0 {
			props, err = json.Marshal(e.Properties)
			if err != nil {
				return 0, sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "marshalling edge properties: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, q,
			e.ID.String(), e.SourceID.String(), e.TargetID.String(), string(e.Type), string(props), formatTime(now))
		if err != nil {
			if isForeignKeyViolation(err) {
				return 0, sigilerr.Wrap(err, sigilerr.CodeStoreEdgeIntegrityViolation, "edge endpoint does not exist",
					sigilerr.Field("source_id", e.SourceID.String()),
					sigilerr.Field("target_id", e.TargetID.String()),
					sigilerr.Field("edge_type", string(e.Type)))
			}
			return 0, sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "inserting edge",
				sigilerr.Field("edge_id", e.ID.String()))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "reading rows affected: %w", err)
		}
		if n > 0 {
			e.CreatedAt = now
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "committing edges: %w", err)
	}
	return created, nil
}

func (s *EdgeStore) Neighbors(ctx context.Context, ids []uuid.UUID, types ...store.EdgeType) ([]store.Adjacency, error) {
	var out []store.Adjacency
	for _, chunk := range chunkIDs(ids) {
		outgoing, err := s.neighbors(ctx, chunk, types, store.Outgoing)
		if err != nil {
			return nil, err
		}
		incoming, err := s.neighbors(ctx, chunk, types, store.Incoming)
		if err != nil {
			return nil, err
		}
		out = append(out, outgoing...)
		out = append(out, incoming...)
	}
	return out, nil
}

func (s *EdgeStore) neighbors(ctx context.Context, ids []uuid.UUID, types []store.EdgeType, dir store.Direction) ([]store.Adjacency, error) {
	near, far := "e.source_id", "e.target_id"
	if dir == store.Incoming {
		near, far = far, near
	}

	args := make([]any, 0, len(ids)+len(types))
	for _, id := range ids {
		args = append(args, id.String())
	}

	q := `SELECT e.id, e.source_id, e.target_id, e.type, e.properties, e.created_at,
	n.id, n.sequence_no, n.author_label, n.content, n.timestamp, n.created_at, n.updated_at
FROM edges e
JOIN nodes n ON n.id = ` + far + `
WHERE ` + near + ` IN (` + placeholders(len(ids)) + `)`
	if len(types) > 0 {
		q += ` AND e.type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	q += ` ORDER BY n.sequence_no`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "querying %s neighbors: %w", dir, err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Adjacency
	for rows.Next() {
		var (
			e                store.Edge
			n                store.Node
			typ, props, ecAt string
			ts, ncAt, nuAt   string
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &typ, &props, &ecAt,
			&n.ID, &n.SequenceNo, &n.AuthorLabel, &n.Content, &ts, &ncAt, &nuAt); err != nil {
			return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "scanning neighbor: %w", err)
		}
		e.Type = store.EdgeType(typ)
		e.CreatedAt = parseTime(ecAt)
		if props != "" && props != "{}" {
			if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
				return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "unmarshalling edge properties: %w", err)
			}
		}
		n.Timestamp = parseTime(ts)
		n.CreatedAt = parseTime(ncAt)
		n.UpdatedAt = parseTime(nuAt)

		from := e.SourceID
		if dir == store.Incoming {
			from = e.TargetID
		}
		out = append(out, store.Adjacency{From: from, Edge: &e, Neighbor: &n, Direction: dir})
	}
	if err := rows.Err(); err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "iterating neighbors: %w", err)
	}
	return out, nil
}

func (s *EdgeStore) CountEdges(ctx context.Context, typ store.EdgeType) (int64, error) {
	q := `SELECT COUNT(*) FROM edges`
	var args []any
	if typ != "" {
		q += ` WHERE type = ?`
		args = append(args, string(typ))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "counting edges: %w", err)
	}
	return n, nil
}

// Close is a no-op; the shared database is closed by the owning GraphStore.
func (s *EdgeStore) Close() error {
	return nil
}
