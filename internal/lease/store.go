// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package lease

import (
	"context"
	"time"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// StoreManager keeps leases in the knowledge store's watermark table.
type StoreManager struct {
	wm store.WatermarkStore
}

func NewStoreManager(wm store.WatermarkStore) *StoreManager {
	return &StoreManager{wm: wm}
}

func (m *StoreManager) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (*store.Lease, error) {
	if err := validate(name, owner, ttl); err != nil {
		return nil, err
	}
	l, err := m.wm.AcquireLease(ctx, name, owner, ttl)
	if err == nil {
		return l, nil
	}
	if sigilerr.HasCode(err, sigilerr.CodeStoreLeaseConflict) {
		holder, _ := sigilerr.FieldsOf(err)["holder"].(string)
		return nil, sigilerr.Reclassify(err, sigilerr.CodeLeaseHeld, "lease is held by another owner",
			sigilerr.Field("lease", name), sigilerr.Field("holder", holder))
	}
	return nil, sigilerr.Reclassify(err, sigilerr.CodeLeaseBackendFailure, "acquiring store lease",
		sigilerr.Field("lease", name))
}

func (m *StoreManager) Release(ctx context.Context, name, owner string) error {
	if err := m.wm.ReleaseLease(ctx, name, owner); err != nil {
		return sigilerr.Reclassify(err, sigilerr.CodeLeaseBackendFailure, "releasing store lease",
			sigilerr.Field("lease", name))
	}
	return nil
}

// Close is a no-op; the store is owned by the caller.
func (m *StoreManager) Close() error { return nil }
