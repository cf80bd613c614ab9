// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package retrieval answers questions over the post graph: it finds seed
// posts by vector similarity, expands them through the graph, builds a
// bounded context and streams the generated answer.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigil-dev/bbsgraph/internal/graph"
	"github.com/sigil-dev/bbsgraph/internal/metrics"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/internal/telemetry"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const (
	defaultTopK        = 5
	defaultTokenBudget = 6000
)

// Generator streams a chat completion for a "provider/model" reference and
// reports the reference it used. provider.Registry implements it.
type Generator interface {
	Chat(ctx context.Context, modelRef string, req provider.ChatRequest) (<-chan provider.ChatEvent, string, error)
}

// Timeouts bound each external call. Zero disables a bound.
type Timeouts struct {
	Embed      time.Duration
	Vector     time.Duration
	Graph      time.Duration
	Generation time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Embed:      15 * time.Second,
		Vector:     5 * time.Second,
		Graph:      10 * time.Second,
		Generation: 2 * time.Minute,
	}
}

// WorkflowConfig holds dependencies and tunables for the Workflow.
type WorkflowConfig struct {
	Embedder   provider.Embedder
	EmbedModel string
	Vectors    store.VectorStore
	Traverser  *graph.Traverser
	Generator  Generator
	// GenerationModel is a "provider/model" reference; empty uses the
	// generator's default.
	GenerationModel string

	TopK        int
	TokenBudget int
	Traversal   graph.Options
	Estimator   graph.Estimator
	Timeouts    Timeouts
	// ReadPolicy retries the vector search.
	ReadPolicy   retry.Policy
	SystemPrompt string
	Temperature  float32
	MaxTokens    int

	Metrics *metrics.Collector
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Workflow runs questions. It is safe for concurrent use; every Ask runs
// on its own goroutine.
type Workflow struct {
	embedder        provider.Embedder
	embedModel      string
	vectors         store.VectorStore
	traverser       *graph.Traverser
	generator       Generator
	generationModel string

	topK         int
	tokenBudget  int
	traversal    graph.Options
	estimator    graph.Estimator
	timeouts     Timeouts
	readPolicy   retry.Policy
	systemPrompt string
	temperature  float32
	maxTokens    int

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewWorkflow validates cfg and fills in defaults.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Embedder == nil || cfg.Vectors == nil || cfg.Traverser == nil || cfg.Generator == nil {
		return nil, sigilerr.New(sigilerr.CodeRetrievalRequestInvalid,
			"workflow needs an embedder, a vector store, a traverser and a generator")
	}

	w := &Workflow{
		embedder:        cfg.Embedder,
		embedModel:      cfg.EmbedModel,
		vectors:         cfg.Vectors,
		traverser:       cfg.Traverser,
		generator:       cfg.Generator,
		generationModel: cfg.GenerationModel,
		topK:            cfg.TopK,
		tokenBudget:     cfg.TokenBudget,
		traversal:       cfg.Traversal,
		estimator:       cfg.Estimator,
		timeouts:        cfg.Timeouts,
		readPolicy:      cfg.ReadPolicy,
		systemPrompt:    cfg.SystemPrompt,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		logger:          cfg.Logger,
	}
	if w.topK <= 0 {
		w.topK = defaultTopK
	}
	if w.tokenBudget <= 0 {
		w.tokenBudget = defaultTokenBudget
	}
	if w.traversal.MaxNodes <= 0 {
		w.traversal = graph.DefaultOptions()
	}
	if w.estimator == nil {
		w.estimator = graph.RuneCount
	}
	if w.readPolicy.MaxAttempts <= 0 {
		w.readPolicy = retry.DefaultPolicy()
	}
	if w.systemPrompt == "" {
		w.systemPrompt = DefaultSystemPrompt
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer(telemetry.TracerName)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// Ask starts answering question. An empty question is rejected before any
// work starts. The returned stream ends with exactly one error or done
// event unless ctx is canceled or the stream is closed first.
func (w *Workflow) Ask(ctx context.Context, question string) (*Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, sigilerr.New(sigilerr.CodeRetrievalRequestInvalid, "question must not be empty")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go w.run(runCtx, s, question)
	return s, nil
}

func (w *Workflow) run(ctx context.Context, s *Stream, question string) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	ctx, span := w.tracer.Start(ctx, "retrieval.Ask",
		trace.WithAttributes(attribute.Int("retrieval.question_runes", len([]rune(question)))))
	defer span.End()

	end := w.metrics.AskStarted()
	defer func() { end(string(s.State())) }()

	seeds, err := stage(ctx, w, s, StateRetrievingSeed, func(ctx context.Context) ([]store.VectorResult, error) {
		return w.retrieveSeeds(ctx, question)
	})
	if err != nil {
		w.fail(ctx, s, span, StateRetrievingSeed, err)
		return
	}

	visits, err := stage(ctx, w, s, StateTraversing, func(ctx context.Context) ([]graph.Visit, error) {
		return w.traverse(ctx, seeds)
	})
	if err != nil {
		w.fail(ctx, s, span, StateTraversing, err)
		return
	}

	synth, err := stage(ctx, w, s, StateSynthesizing, func(ctx context.Context) (graph.Context, error) {
		c := graph.Synthesize(visits, w.tokenBudget, w.estimator)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("retrieval.context_tokens", c.Tokens),
			attribute.Int("retrieval.dropped", c.Dropped))
		return c, ctx.Err()
	})
	if err != nil {
		w.fail(ctx, s, span, StateSynthesizing, err)
		return
	}

	citations := synth.Citations
	if citations == nil {
		citations = []graph.Citation{}
	}
	if !s.send(ctx, Event{Type: EventCitations, Citations: citations}) {
		w.fail(ctx, s, span, StateSynthesizing, ctx.Err())
		return
	}

	if _, err := stage(ctx, w, s, StateGenerating, func(ctx context.Context) (int, error) {
		return w.generate(ctx, s, question, synth.Text)
	}); err != nil {
		w.fail(ctx, s, span, StateGenerating, err)
		return
	}

	s.finish(StateDone, nil)
	span.SetStatus(codes.Ok, "")
	s.send(ctx, Event{Type: EventDone})
}

// stage runs fn in state under a child span and records its duration.
func stage[T any](ctx context.Context, w *Workflow, s *Stream, state State, fn func(context.Context) (T, error)) (T, error) {
	s.setState(state)
	ctx, span := w.tracer.Start(ctx, "retrieval."+strings.ToLower(string(state)))
	defer span.End()

	started := time.Now()
	out, err := fn(ctx)
	w.metrics.AskStage(string(state), time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(sigilerr.CodeOf(err)))
	}
	return out, err
}

// fail ends the run. Caller cancellation ends it as CANCELED without an
// event; anything else is FAILED with a generic error event, the detail
// going to the log and the span.
func (w *Workflow) fail(ctx context.Context, s *Stream, span trace.Span, state State, err error) {
	if ctx.Err() != nil {
		s.finish(StateCanceled, sigilerr.Reclassify(ctx.Err(), sigilerr.CodeRetrievalGenerateAborted,
			"question canceled", sigilerr.FieldState(string(state))))
		span.SetAttributes(attribute.String("retrieval.outcome", "canceled"))
		w.logger.Debug("question canceled", "state", state)
		return
	}

	err = sigilerr.With(err, sigilerr.FieldState(string(state)))
	s.finish(StateFailed, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(state))
	w.logger.Error("question failed", "state", state, "code", sigilerr.CodeOf(err), "error", err)
	s.send(ctx, Event{Type: EventError, Error: userMessage(state, err)})
}

// userMessage is the text shown to the asker. It never carries internal
// details.
func userMessage(state State, err error) string {
	if sigilerr.IsTimeout(err) {
		return "The request timed out. Please try again."
	}
	switch state {
	case StateRetrievingSeed:
		return "Could not search the archive. Please try again later."
	case StateTraversing:
		return "Could not collect related posts. Please try again later."
	case StateSynthesizing:
		return "Could not prepare the answer context. Please try again later."
	default:
		return "Could not generate an answer. Please try again later."
	}
}
