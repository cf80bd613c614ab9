// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigil-dev/bbsgraph/internal/graph"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// DefaultSystemPrompt instructs the model to answer from the context only
// and to cite post numbers.
const DefaultSystemPrompt = `You are an assistant for a forum archive.
Answer the user's question using only the forum posts in the context below, in the language of the question.
Each context line has the form "No.<number> <author> <timestamp>: <text>". Take reply relationships into account to follow the conversation.
Cite the posts you relied on as No.<number>.
If the context does not contain the answer, say that you do not know instead of guessing.`

func (w *Workflow) retrieveSeeds(ctx context.Context, question string) ([]store.VectorResult, error) {
	embedCtx, cancel := withTimeout(ctx, w.timeouts.Embed)
	vecs, err := w.embedder.Embed(embedCtx, provider.EmbedRequest{
		Model:      w.embedModel,
		Texts:      []string{question},
		Dimensions: w.vectors.Dimensions(),
	})
	err = timedOut(ctx, embedCtx, err, "embedding question")
	cancel()
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeRetrievalSeedFailure, "embedding question",
			sigilerr.FieldProvider(w.embedder.Name()))
	}
	if len(vecs) != 1 {
		return nil, sigilerr.Errorf(sigilerr.CodeRetrievalSeedFailure, "embedder returned %d vectors for one question", len(vecs))
	}

	policy := w.readPolicy
	policy.AttemptTimeout = w.timeouts.Vector
	results, err := retry.Do(ctx, policy, retry.Transient, func(ctx context.Context) ([]store.VectorResult, error) {
		return w.vectors.Search(ctx, vecs[0], w.topK)
	})
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeRetrievalSeedFailure, "searching vectors")
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("retrieval.seeds", len(results)))
	return results, nil
}

func (w *Workflow) traverse(ctx context.Context, seeds []store.VectorResult) ([]graph.Visit, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(seeds))
	for _, s := range seeds {
		ids = append(ids, s.NodeID)
	}

	graphCtx, cancel := withTimeout(ctx, w.timeouts.Graph)
	defer cancel()
	visits, err := w.traverser.Traverse(graphCtx, ids, w.traversal)
	if err = timedOut(ctx, graphCtx, err, "traversing graph"); err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeRetrievalTraverseFailure, "traversing graph")
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("retrieval.visits", len(visits)))
	return visits, nil
}

// generate streams the answer into s and returns the number of units
// forwarded. It is never retried: a partial answer may already be out.
func (w *Workflow) generate(ctx context.Context, s *Stream, question, contextText string) (int, error) {
	genCtx, cancel := withTimeout(ctx, w.timeouts.Generation)
	defer cancel()

	events, ref, err := w.generator.Chat(genCtx, w.generationModel, provider.ChatRequest{
		SystemPrompt: w.systemPrompt,
		Messages:     []provider.Message{{Role: provider.MessageRoleUser, Content: UserPrompt(contextText, question)}},
		Options:      provider.ChatOptions{Temperature: w.temperature, MaxTokens: w.maxTokens},
	})
	if err != nil {
		err = timedOut(ctx, genCtx, err, "starting generation")
		return 0, sigilerr.Wrap(err, sigilerr.CodeRetrievalGenerateFailure, "starting generation")
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("retrieval.model", ref))

	units := 0
	defer func() { w.metrics.AskUnits(units) }()
	for {
		var (
			ev provider.ChatEvent
			ok bool
		)
		select {
		case ev, ok = <-events:
		case <-genCtx.Done():
			return units, timedOut(ctx, genCtx, genCtx.Err(), "generating answer")
		}
		if !ok {
			// Providers close the channel without a done event when
			// their context ends.
			if err := genCtx.Err(); err != nil {
				return units, timedOut(ctx, genCtx, err, "generating answer")
			}
			return units, nil
		}

		switch ev.Type {
		case provider.EventTypeTextDelta:
			if ev.Text == "" {
				continue
			}
			if !s.send(genCtx, Event{Type: EventToken, Token: ev.Text}) {
				return units, timedOut(ctx, genCtx, genCtx.Err(), "generating answer")
			}
			units++
		case provider.EventTypeError:
			return units, sigilerr.New(sigilerr.CodeRetrievalGenerateFailure, "generation stream failed",
				sigilerr.Field("model", ref), sigilerr.Field("detail", ev.Error))
		case provider.EventTypeDone:
			return units, nil
		}

		if err := ctx.Err(); err != nil {
			return units, err
		}
	}
}

// UserPrompt frames the synthesized context and the question.
func UserPrompt(contextText, question string) string {
	if contextText == "" {
		contextText = "(no related posts found)"
	}
	return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s\n\nAnswer:", contextText, question)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timedOut turns a deadline hit by the call's own timeout into a
// retrieval.call.timeout error. Errors from a done parent pass through.
func timedOut(parent, call context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded) {
		return sigilerr.Reclassify(err, sigilerr.CodeRetrievalCallTimeout, op+" timed out")
	}
	return err
}
