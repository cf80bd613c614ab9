// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package archive reads posts from the append-only source forum archive.
// The archive is never written to.
package archive

import (
	"context"
	"time"
)

// Post is one row of the source archive.
type Post struct {
	SequenceNo  int64
	AuthorLabel string
	Timestamp   time.Time
	Text        string
	HTMLText    string
}

// Reader fetches posts in ascending sequence order.
type Reader interface {
	// Fetch returns up to limit posts with SequenceNo >= fromSeq, ascending.
	// An empty result means there is nothing more to read.
	Fetch(ctx context.Context, fromSeq int64, limit int) ([]Post, error)

	// Latest returns the highest sequence number in the archive, or 0.
	Latest(ctx context.Context) (int64, error)

	Close() error
}

// Config selects and addresses the source database.
type Config struct {
	Driver string // "postgres" or "sqlite3"
	DSN    string
	Table  string // defaults to "res"
}
