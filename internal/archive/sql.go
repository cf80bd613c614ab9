// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package archive

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultTable = "res"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// timestamp layouts accepted when the driver hands back text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// Compile-time interface check.
var _ Reader = (*SQLReader)(nil)

// SQLReader reads the archive table through database/sql.
type SQLReader struct {
	db          *sql.DB
	fetchQuery  string
	latestQuery string
}

// Open connects to the archive described by cfg.
func Open(cfg Config) (*SQLReader, error) {
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !tableName.MatchString(table) {
		return nil, sigilerr.Errorf(sigilerr.CodeArchiveDialectUnsupported, "invalid archive table name %q", table)
	}

	var fetchQ string
	switch cfg.Driver {
	case DriverPostgres:
		fetchQ = `SELECT no, name_and_trip, datetime, main_text, main_text_html
FROM ` + table + `
WHERE no >= $1
ORDER BY no ASC
LIMIT $2`
	case DriverSQLite:
		fetchQ = `SELECT no, name_and_trip, datetime, main_text, main_text_html
FROM ` + table + `
WHERE no >= ?
ORDER BY no ASC
LIMIT ?`
	default:
		return nil, sigilerr.Errorf(sigilerr.CodeArchiveDialectUnsupported, "unsupported archive driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeArchiveOpenFailure, "opening archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, sigilerr.Errorf(sigilerr.CodeArchiveOpenFailure, "pinging archive: %w", err)
	}

	return &SQLReader{
		db:          db,
		fetchQuery:  fetchQ,
		latestQuery: `SELECT COALESCE(MAX(no), 0) FROM ` + table,
	}, nil
}

func (r *SQLReader) Fetch(ctx context.Context, fromSeq int64, limit int) ([]Post, error) {
	if limit <= 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeSyncRequestInvalid, "fetch limit must be positive, got %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, r.fetchQuery, fromSeq, limit)
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeArchiveReadFailure, "querying archive",
			sigilerr.FieldSequenceNo(fromSeq))
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		var (
			p          Post
			author     sql.NullString
			ts         any
			text, html sql.NullString
		)
		if err := rows.Scan(&p.SequenceNo, &author, &ts, &text, &html); err != nil {
			return nil, sigilerr.Errorf(sigilerr.CodeArchiveRowInvalid, "scanning archive row: %w", err)
		}
		p.AuthorLabel = strings.TrimSpace(author.String)
		p.Text = text.String
		p.HTMLText = html.String
		p.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return nil, sigilerr.Wrap(err, sigilerr.CodeArchiveRowInvalid, "parsing post timestamp",
				sigilerr.FieldSequenceNo(p.SequenceNo))
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeArchiveReadFailure, "iterating archive rows: %w", err)
	}
	return posts, nil
}

func (r *SQLReader) Latest(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, r.latestQuery).Scan(&n); err != nil {
		return 0, sigilerr.Errorf(sigilerr.CodeArchiveReadFailure, "reading latest post number: %w", err)
	}
	return n, nil
}

func (r *SQLReader) Close() error {
	return r.db.Close()
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return parseTimeText(string(t))
	case string:
		return parseTimeText(t)
	case nil:
		return time.Time{}, fmt.Errorf("timestamp is null")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimeText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
