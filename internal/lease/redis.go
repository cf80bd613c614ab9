// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package lease

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// acquireScript sets the key when free, or extends it when the caller
// already owns it. Returns 1 on success, 0 when another owner holds it.
var acquireScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
if v == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// releaseScript deletes the key only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager keeps leases as Redis keys with a PX expiry.
type RedisManager struct {
	client *redis.Client
	prefix string
}

// NewRedisManager connects to url (redis://host:port/db) and pings it.
func NewRedisManager(ctx context.Context, url, prefix string) (*RedisManager, error) {
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeLeaseBackendUnsupported, "parsing redis url")
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "connecting to redis")
	}
	return NewRedisManagerWithClient(client, prefix), nil
}

// NewRedisManagerWithClient wraps an existing client. Close closes it.
func NewRedisManagerWithClient(client *redis.Client, prefix string) *RedisManager {
	return &RedisManager{client: client, prefix: prefix}
}

func (m *RedisManager) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (*store.Lease, error) {
	if err := validate(name, owner, ttl); err != nil {
		return nil, err
	}
	key := m.prefix + name

	ok, err := acquireScript.Run(ctx, m.client, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "acquiring redis lease",
			sigilerr.Field("lease", name))
	}
	if ok == 0 {
		holder, _ := m.client.Get(ctx, key).Result()
		return nil, held(name, holder)
	}
	return &store.Lease{Name: name, Owner: owner, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *RedisManager) Release(ctx context.Context, name, owner string) error {
	if err := releaseScript.Run(ctx, m.client, []string{m.prefix + name}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return sigilerr.Wrap(err, sigilerr.CodeLeaseBackendFailure, "releasing redis lease",
			sigilerr.Field("lease", name))
	}
	return nil
}

func (m *RedisManager) Close() error {
	return m.client.Close()
}
