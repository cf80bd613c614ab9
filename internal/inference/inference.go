// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package inference finds reply relationships between posts. Inferrers
// compose: an LLM inferrer wrapped in a circuit breaker and a retry loop,
// optionally merged with the deterministic >>N anchor inferrer.
package inference

import (
	"context"

	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Triple says post SourceNo replies to post TargetNo.
type Triple struct {
	SourceNo   int64   `json:"source"`
	TargetNo   int64   `json:"target"`
	Confidence float64 `json:"confidence"`
	// Model names what produced the triple: a model ref or "anchor".
	Model string `json:"-"`
}

// Window is one inference call: the Targets whose replies are wanted and
// the posts preceding them. Both are in ascending sequence order.
type Window struct {
	Context []*store.Node
	Targets []*store.Node
}

// Inferrer returns reply triples for the targets of a window. Model output
// is not trusted: a triple may name a source outside the window, a target
// that is not earlier than its source, or a post that does not exist. The
// caller checks and reports these.
type Inferrer interface {
	InferReplies(ctx context.Context, w Window) ([]Triple, error)
}

// InferrerFunc adapts a function to Inferrer.
type InferrerFunc func(ctx context.Context, w Window) ([]Triple, error)

func (f InferrerFunc) InferReplies(ctx context.Context, w Window) ([]Triple, error) {
	return f(ctx, w)
}

// Merge runs every inferrer on the window and keeps the highest confidence
// per (source, target) pair. An invalid response from one inferrer does not
// discard the others: the merged triples are returned together with the
// first such error. Any other error aborts.
func Merge(inferrers ...Inferrer) Inferrer {
	return InferrerFunc(func(ctx context.Context, w Window) ([]Triple, error) {
		type pair struct{ src, tgt int64 }
		best := make(map[pair]int)
		var (
			out     []Triple
			invalid error
		)
		for _, inf := range inferrers {
			triples, err := inf.InferReplies(ctx, w)
			if err != nil {
				if !sigilerr.IsInvalidResponse(err) {
					return nil, err
				}
				if invalid == nil {
					invalid = err
				}
			}
			for _, t := range triples {
				k := pair{t.SourceNo, t.TargetNo}
				if i, ok := best[k]; ok {
					if t.Confidence > out[i].Confidence {
						out[i] = t
					}
					continue
				}
				best[k] = len(out)
				out = append(out, t)
			}
		}
		return out, invalid
	})
}
