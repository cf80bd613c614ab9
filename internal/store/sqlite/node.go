// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Compile-time interface check.
var _ store.NodeStore = (*NodeStore)(nil)

const nodeColumns = `id, sequence_no, author_label, content, timestamp, created_at, updated_at`

// NodeStore implements store.NodeStore on the shared graph database.
type NodeStore struct {
	db *sql.DB
}

// NewNodeStoreWithDB returns a NodeStore using an already migrated db.
// Close is a no-op; the caller owns db.
func NewNodeStoreWithDB(db *sql.DB) *NodeStore {
	return &NodeStore{db: db}
}

func (s *NodeStore) UpsertNodes(ctx context.Context, nodes []*store.Node) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsertQ = `INSERT INTO nodes (` + nodeColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(sequence_no) DO UPDATE SET
	author_label = excluded.author_label,
	content = excluded.content,
	timestamp = excluded.timestamp,
	updated_at = excluded.updated_at
WHERE nodes.author_label != excluded.author_label
	OR nodes.content != excluded.content
	OR nodes.timestamp != excluded.timestamp`

	now := formatTime(time.Now())
	created := 0
	for _, n := range nodes {
		candidate := uuid.New()
		if _, err := tx.ExecContext(ctx, upsertQ,
			candidate.String(), n.SequenceNo, n.AuthorLabel, n.Content, formatTime(n.Timestamp), now, now,
		); err != nil {
			return 0, sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "upserting node",
				sigilerr.FieldSequenceNo(n.SequenceNo))
		}

		var createdAt, updatedAt string
		if err := tx.QueryRowContext(ctx,
			`SELECT id, created_at, updated_at FROM nodes WHERE sequence_no = ?`, n.SequenceNo,
		).Scan(&n.ID, &createdAt, &updatedAt); err != nil {
			return 0, sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "reading upserted node",
				sigilerr.FieldSequenceNo(n.SequenceNo))
		}
		n.CreatedAt = parseTime(createdAt)
		n.UpdatedAt = parseTime(updatedAt)
		if n.ID == candidate {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "committing node upsert: %w", err)
	}
	return created, nil
}

func (s *NodeStore) GetNodes(ctx context.Context, ids []uuid.UUID) ([]*store.Node, error) {
	var out []*store.Node
	for _, chunk := range chunkIDs(ids) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		q := `SELECT ` + nodeColumns + ` FROM nodes WHERE id IN (` + placeholders(len(chunk)) + `) ORDER BY sequence_no`
		nodes, err := s.query(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (s *NodeStore) NodesBySequence(ctx context.Context, seqs []int64) (map[int64]*store.Node, error) {
	out := make(map[int64]*store.Node, len(seqs))
	for start := 0; start < len(seqs); start += maxInClause {
		end := min(start+maxInClause, len(seqs))
		args := make([]any, 0, end-start)
		for _, seq := range seqs[start:end] {
			args = append(args, seq)
		}
		q := `SELECT ` + nodeColumns + ` FROM nodes WHERE sequence_no IN (` + placeholders(len(args)) + `)`
		nodes, err := s.query(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			out[n.SequenceNo] = n
		}
	}
	return out, nil
}

func (s *NodeStore) ListNodes(ctx context.Context, afterSeq int64, limit int) ([]*store.Node, error) {
	if limit <= 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "list nodes: limit must be positive, got %d", limit)
	}
	const q = `SELECT ` + nodeColumns + ` FROM nodes WHERE sequence_no > ? ORDER BY sequence_no ASC LIMIT ?`
	return s.query(ctx, q, afterSeq, limit)
}

func (s *NodeStore) ChangedNodes(ctx context.Context, afterSeq, maxSeq int64, limit int) ([]*store.Node, error) {
	if limit <= 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "changed nodes: limit must be positive, got %d", limit)
	}
	const q = `SELECT ` + nodeColumns + ` FROM nodes
WHERE sequence_no > ? AND sequence_no <= ? AND updated_at != created_at
ORDER BY sequence_no ASC LIMIT ?`
	return s.query(ctx, q, afterSeq, maxSeq, limit)
}

func (s *NodeStore) PrecedingNodes(ctx context.Context, beforeSeq int64, limit int) ([]*store.Node, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `SELECT ` + nodeColumns + ` FROM nodes WHERE sequence_no < ? ORDER BY sequence_no DESC LIMIT ?`
	nodes, err := s.query(ctx, q, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	return nodes, nil
}

func (s *NodeStore) CountNodes(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "counting nodes: %w", err)
	}
	return n, nil
}

// Close is a no-op; the shared database is closed by the owning GraphStore.
func (s *NodeStore) Close() error {
	return nil
}

func (s *NodeStore) query(ctx context.Context, q string, args ...any) ([]*store.Node, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "querying nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*store.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "iterating nodes: %w", err)
	}
	return nodes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*store.Node, error) {
	var n store.Node
	var ts, createdAt, updatedAt string
	if err := row.Scan(&n.ID, &n.SequenceNo, &n.AuthorLabel, &n.Content, &ts, &createdAt, &updatedAt); err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "scanning node: %w", err)
	}
	n.Timestamp = parseTime(ts)
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}
