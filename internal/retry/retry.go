// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package retry runs idempotent calls with bounded exponential backoff and
// a per-attempt timeout. Only reads go through it; writes and generation
// are never retried here.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Policy bounds a retried call.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout caps each attempt; zero means only the parent
	// context applies.
	AttemptTimeout time.Duration
}

// DefaultPolicy is three attempts starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Retryable decides whether a failed attempt may be repeated.
type Retryable func(error) bool

// Transient retries store, archive and upstream failures plus attempt
// timeouts.
func Transient(err error) bool {
	return sigilerr.IsTransient(err) || sigilerr.HasCode(err, sigilerr.CodeRetryAttemptTimeout)
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// policy's attempts run out. Exhaustion is reported as
// retry.attempts.exhausted wrapping the last failure. Cancellation of ctx
// ends the loop with the context error.
func Do[T any](ctx context.Context, p Policy, retryable Retryable, op func(context.Context) (T, error)) (T, error) {
	if retryable == nil {
		retryable = Transient
	}
	attempts := max(p.MaxAttempts, 1)

	var (
		tries   int
		lastErr error
	)
	res, err := backoff.Retry(ctx, func() (T, error) {
		tries++
		v, err := attempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		var zero T
		if lastErr != nil && errors.Is(lastErr, ctxErr) {
			return zero, lastErr
		}
		return zero, ctxErr
	}
	if tries >= attempts && lastErr != nil && retryable(lastErr) {
		var zero T
		return zero, sigilerr.Reclassify(lastErr, sigilerr.CodeRetryAttemptsExhausted,
			"giving up after retries", sigilerr.Field("attempts", tries))
	}
	return res, err
}

func attempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := op(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return v, sigilerr.Reclassify(err, sigilerr.CodeRetryAttemptTimeout,
			"attempt timed out", sigilerr.Field("timeout", timeout.String()))
	}
	return v, err
}
