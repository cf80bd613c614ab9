// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// maxInClause bounds the number of placeholders in a single IN (...) list.
const maxInClause = 500

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// openDB opens and pings a SQLite database with WAL and foreign keys on.
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}
	return db, nil
}

func migrateGraph(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
	id           TEXT PRIMARY KEY,
	sequence_no  INTEGER NOT NULL UNIQUE,
	author_label TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL REFERENCES nodes(id),
	target_id  TEXT NOT NULL REFERENCES nodes(id),
	type       TEXT NOT NULL CHECK (type IN ('REPLY_TO', 'SEQUENTIAL_TO')),
	properties TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	UNIQUE(source_id, target_id, type)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id, type);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, type);

CREATE TABLE IF NOT EXISTS watermarks (
	name             TEXT PRIMARY KEY,
	last_sequence_no INTEGER NOT NULL DEFAULT 0,
	last_run_at      TEXT NOT NULL DEFAULT '',
	version          INTEGER NOT NULL DEFAULT 0,
	lease_owner      TEXT NOT NULL DEFAULT '',
	lease_expires_at INTEGER NOT NULL DEFAULT 0
);
`
	_, err := db.Exec(ddl)
	return err
}

// isForeignKeyViolation reports whether err is a SQLite FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// placeholders returns "?,?,...,?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// chunkIDs splits ids into slices of at most maxInClause.
func chunkIDs(ids []uuid.UUID) [][]uuid.UUID {
	var chunks [][]uuid.UUID
	for len(ids) > maxInClause {
		chunks = append(chunks, ids[:maxInClause])
		ids = ids[maxInClause:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// formatTime serialises a time for storage in the database.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
