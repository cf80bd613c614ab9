// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package archive_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/archive"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// seedArchive writes a res table with posts 1..n and returns its path.
func seedArchive(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`CREATE TABLE res (
	no             INTEGER PRIMARY KEY,
	name_and_trip  TEXT,
	datetime       TEXT NOT NULL,
	datetime_text  TEXT,
	id             TEXT,
	main_text      TEXT,
	main_text_html TEXT
)`)
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		var author any = " 名無しさん "
		if i%2 == 0 {
			author = nil
		}
		_, err := db.Exec(`INSERT INTO res (no, name_and_trip, datetime, main_text, main_text_html) VALUES (?, ?, ?, ?, ?)`,
			i, author, base.Add(time.Duration(i)*time.Minute).Format("2006-01-02 15:04:05"), "本文", "<p>本文</p>")
		require.NoError(t, err)
	}
	return path
}

func TestSQLReader_FetchAscendingBatches(t *testing.T) {
	ctx := context.Background()
	r, err := archive.Open(archive.Config{Driver: archive.DriverSQLite, DSN: seedArchive(t, 7)})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	posts, err := r.Fetch(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, int64(3), posts[0].SequenceNo)
	assert.Equal(t, int64(5), posts[2].SequenceNo)
	assert.Equal(t, "名無しさん", posts[0].AuthorLabel)
	assert.Equal(t, "", posts[1].AuthorLabel)
	assert.Equal(t, "本文", posts[0].Text)
	assert.Equal(t, "<p>本文</p>", posts[0].HTMLText)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 3, 0, 0, time.UTC), posts[0].Timestamp.UTC())

	posts, err = r.Fetch(ctx, 8, 10)
	require.NoError(t, err)
	assert.Empty(t, posts)

	latest, err := r.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), latest)
}

func TestSQLReader_UnparseableTimestampIsNotTransient(t *testing.T) {
	path := seedArchive(t, 3)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE res SET datetime = 'yesterday evening' WHERE no = 2`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r, err := archive.Open(archive.Config{Driver: archive.DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Fetch(context.Background(), 1, 10)
	require.Error(t, err)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeArchiveRowInvalid))
	assert.True(t, sigilerr.IsInvalidInput(err))
	assert.False(t, sigilerr.IsTransient(err))
}

func TestSQLReader_EmptyArchive(t *testing.T) {
	r, err := archive.Open(archive.Config{Driver: archive.DriverSQLite, DSN: seedArchive(t, 0)})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	latest, err := r.Latest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestOpen_RejectsBadConfig(t *testing.T) {
	_, err := archive.Open(archive.Config{Driver: "mysql", DSN: "x"})
	assert.True(t, sigilerr.IsInvalidInput(err))

	_, err = archive.Open(archive.Config{Driver: archive.DriverSQLite, DSN: "x.db", Table: "res; DROP TABLE res"})
	assert.True(t, sigilerr.IsInvalidInput(err))
}
