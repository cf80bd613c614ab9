// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Compile-time interface check.
var _ store.WatermarkStore = (*WatermarkStore)(nil)

// WatermarkStore implements store.WatermarkStore. Each named job has one
// row holding both its progress and its lease.
type WatermarkStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewWatermarkStoreWithDB returns a WatermarkStore using an already migrated db.
func NewWatermarkStoreWithDB(db *sql.DB) *WatermarkStore {
	return &WatermarkStore{db: db, now: time.Now}
}

func (s *WatermarkStore) GetWatermark(ctx context.Context, name string) (*store.Watermark, error) {
	wm := &store.Watermark{Name: name}
	var lastRun string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence_no, last_run_at, version FROM watermarks WHERE name = ?`, name,
	).Scan(&wm.LastSequenceNo, &lastRun, &wm.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return wm, nil
	}
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "reading watermark",
			sigilerr.Field("watermark", name))
	}
	wm.LastRunAt = parseTime(lastRun)
	return wm, nil
}

func (s *WatermarkStore) AdvanceWatermark(ctx context.Context, name string, seq int64, expectedVersion int64) (*store.Watermark, error) {
	if expectedVersion < 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "watermark %s: negative version %d", name, expectedVersion)
	}

	// Version 0 covers both a missing row and a row created by a lease.
	const insertQ = `INSERT INTO watermarks (name, last_sequence_no, last_run_at, version)
VALUES (?, ?, ?, 1)
ON CONFLICT(name) DO UPDATE SET
	last_sequence_no = MAX(watermarks.last_sequence_no, excluded.last_sequence_no),
	last_run_at = excluded.last_run_at,
	version = watermarks.version + 1
WHERE watermarks.version = 0`
	const updateQ = `UPDATE watermarks SET
	last_sequence_no = MAX(last_sequence_no, ?),
	last_run_at = ?,
	version = version + 1
WHERE name = ? AND version = ?`

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, insertQ, name, seq, formatTime(s.now()))
	} else {
		res, err = s.db.ExecContext(ctx, updateQ, seq, formatTime(s.now()), name, expectedVersion)
	}
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "advancing watermark",
			sigilerr.Field("watermark", name))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "reading rows affected: %w", err)
	}

	current, err := s.GetWatermark(ctx, name)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, sigilerr.New(sigilerr.CodeStoreWatermarkConflict, "watermark changed concurrently",
			sigilerr.Field("watermark", name),
			sigilerr.Field("expected_version", expectedVersion),
			sigilerr.Field("actual_version", current.Version))
	}
	return current, nil
}

func (s *WatermarkStore) ResetWatermark(ctx context.Context, name string) error {
	const q = `UPDATE watermarks
SET last_sequence_no = 0, last_run_at = '', version = version + 1
WHERE name = ?`
	if _, err := s.db.ExecContext(ctx, q, name); err != nil {
		return sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "resetting watermark",
			sigilerr.Field("watermark", name))
	}
	return nil
}

func (s *WatermarkStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (*store.Lease, error) {
	if owner == "" || ttl <= 0 {
		return nil, sigilerr.New(sigilerr.CodeStoreInvalidInput, "lease requires an owner and a positive ttl")
	}

	const q = `INSERT INTO watermarks (name, lease_owner, lease_expires_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	lease_owner = excluded.lease_owner,
	lease_expires_at = excluded.lease_expires_at
WHERE watermarks.lease_owner = ''
	OR watermarks.lease_owner = excluded.lease_owner
	OR watermarks.lease_expires_at <= ?`

	now := s.now()
	expires := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, q, name, owner, expires.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "acquiring lease",
			sigilerr.Field("lease", name))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "reading rows affected: %w", err)
	}
	if n == 0 {
		var holder string
		_ = s.db.QueryRowContext(ctx, `SELECT lease_owner FROM watermarks WHERE name = ?`, name).Scan(&holder)
		return nil, sigilerr.New(sigilerr.CodeStoreLeaseConflict, "lease is held by another owner",
			sigilerr.Field("lease", name),
			sigilerr.Field("holder", holder))
	}
	return &store.Lease{Name: name, Owner: owner, ExpiresAt: expires}, nil
}

func (s *WatermarkStore) ReleaseLease(ctx context.Context, name, owner string) error {
	const q = `UPDATE watermarks SET lease_owner = '', lease_expires_at = 0
WHERE name = ? AND lease_owner = ?`
	if _, err := s.db.ExecContext(ctx, q, name, owner); err != nil {
		return sigilerr.Wrap(err, sigilerr.CodeStoreDatabaseFailure, "releasing lease",
			sigilerr.Field("lease", name))
	}
	return nil
}

// Close is a no-op; the shared database is closed by the owning GraphStore.
func (s *WatermarkStore) Close() error {
	return nil
}
