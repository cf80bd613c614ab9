// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package lease

import (
	"context"
	"math"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// EtcdManager binds each lease key to an etcd lease with the requested TTL.
// The key is created in a transaction guarded on its create revision, so
// only one owner can hold it.
type EtcdManager struct {
	client *clientv3.Client
	prefix string

	mu     sync.Mutex
	leases map[string]heldLease // key: lease name
}

type heldLease struct {
	id    clientv3.LeaseID
	owner string
}

// NewEtcdManager connects to endpoints and checks connectivity.
func NewEtcdManager(ctx context.Context, endpoints []string, prefix string) (*EtcdManager, error) {
	if len(endpoints) == 0 {
		return nil, sigilerr.New(sigilerr.CodeLeaseBackendUnsupported, "etcd lease backend needs at least one endpoint")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "creating etcd client")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := cli.Get(checkCtx, prefix+"health-check"); err != nil {
		_ = cli.Close()
		return nil, sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "etcd health check failed")
	}

	return &EtcdManager{
		client: cli,
		prefix: prefix,
		leases: make(map[string]heldLease),
	}, nil
}

func (m *EtcdManager) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (*store.Lease, error) {
	if err := validate(name, owner, ttl); err != nil {
		return nil, err
	}
	key := m.prefix + name

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-entrant acquire extends the existing etcd lease. A lease this
	// manager holds for another owner is left alone; the claim below fails.
	if cur, ok := m.leases[name]; ok && cur.owner == owner {
		resp, err := m.client.Get(ctx, key)
		if err == nil && len(resp.Kvs) == 1 && string(resp.Kvs[0].Value) == owner {
			if _, err := m.client.KeepAliveOnce(ctx, cur.id); err == nil {
				return &store.Lease{Name: name, Owner: owner, ExpiresAt: time.Now().Add(ttl)}, nil
			}
		}
		delete(m.leases, name)
	}

	secs := int64(math.Ceil(ttl.Seconds()))
	grant, err := m.client.Grant(ctx, max(secs, 1))
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "granting etcd lease",
			sigilerr.Field("lease", name))
	}

	txn, err := m.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, owner, clientv3.WithLease(grant.ID))).
		Else(clientv3.OpGet(key)).
		Commit()
	if err != nil {
		m.revoke(grant.ID)
		return nil, sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "claiming etcd lease key",
			sigilerr.Field("lease", name))
	}
	if !txn.Succeeded {
		m.revoke(grant.ID)
		holder := ""
		if rs := txn.Responses; len(rs) == 1 {
			if kvs := rs[0].GetResponseRange().GetKvs(); len(kvs) == 1 {
				holder = string(kvs[0].Value)
			}
		}
		return nil, held(name, holder)
	}

	m.leases[name] = heldLease{id: grant.ID, owner: owner}
	return &store.Lease{Name: name, Owner: owner, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *EtcdManager) Release(ctx context.Context, name, owner string) error {
	key := m.prefix + name

	m.mu.Lock()
	defer m.mu.Unlock()

	txn, err := m.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", owner)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "releasing etcd lease",
			sigilerr.Field("lease", name))
	}
	if cur, ok := m.leases[name]; ok && cur.owner == owner && txn.Succeeded {
		m.revoke(cur.id)
		delete(m.leases, name)
	}
	return nil
}

// Close revokes every lease still held and closes the client.
func (m *EtcdManager) Close() error {
	m.mu.Lock()
	for name, cur := range m.leases {
		m.revoke(cur.id)
		delete(m.leases, name)
	}
	m.mu.Unlock()
	return m.client.Close()
}

func (m *EtcdManager) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = m.client.Revoke(ctx, id)
}
