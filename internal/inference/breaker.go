// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package inference

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// BreakerConfig configures the circuit breaker around an inferrer.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests calls have been counted.
	FailureThreshold float64
	MinRequests      uint32
	Logger           *slog.Logger
}

// DefaultBreakerConfig trips at 80% failures over at least 5 calls and
// lets a trial call through after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "inference",
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type breaking struct {
	next Inferrer
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker fails fast with inference.circuit.unavailable while the
// upstream keeps failing. Unparseable answers do not count as failures:
// the upstream answered.
func WithBreaker(next Inferrer, cfg BreakerConfig) Inferrer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || sigilerr.IsInvalidResponse(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &breaking{next: next, cb: cb}
}

func (b *breaking) InferReplies(ctx context.Context, w Window) ([]Triple, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.InferReplies(ctx, w)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, sigilerr.Wrap(err, sigilerr.CodeInferenceCircuitOpen,
			"inference circuit open", sigilerr.Field("breaker", b.cb.Name()))
	}
	if err != nil {
		return nil, err
	}
	triples, _ := out.([]Triple)
	return triples, nil
}
