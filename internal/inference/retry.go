// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// RetryConfig bounds WithRetry.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
}

// DefaultRetryConfig is three attempts starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

type retrying struct {
	next Inferrer
	cfg  RetryConfig
}

// WithRetry retries upstream failures and unparseable answers with
// exponential backoff. When attempts run out on an upstream failure the
// error becomes inference.retries.exhausted; when they run out on an
// unparseable answer the inference.response.invalid error is returned as is.
// Other errors, including an open circuit, are returned at once.
func WithRetry(next Inferrer, cfg RetryConfig) Inferrer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &retrying{next: next, cfg: cfg}
}

func (r *retrying) InferReplies(ctx context.Context, w Window) ([]Triple, error) {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}

	attempts := 0
	triples, err := backoff.Retry(ctx, func() ([]Triple, error) {
		attempts++
		t, err := r.next.InferReplies(ctx, w)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.cfg.Logger.Warn("inference attempt failed, retrying",
				"attempt", attempts,
				"wait", wait,
				"error", err,
			)
		}),
	)
	if err == nil {
		return triples, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if attempts >= r.cfg.MaxAttempts && sigilerr.IsTransient(err) {
		return nil, sigilerr.Reclassify(err, sigilerr.CodeInferenceRetriesExhausted,
			"inference retries exhausted", sigilerr.Field("attempts", attempts))
	}
	return nil, err
}

func retryable(err error) bool {
	return sigilerr.IsTransient(err) || sigilerr.IsInvalidResponse(err)
}
