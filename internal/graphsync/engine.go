// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package graphsync copies posts from the source archive into the knowledge
// graph: one node per post, structural SEQUENTIAL_TO edges, and inferred
// REPLY_TO edges. Progress is tracked by the "sync" watermark and every run
// holds the "sync" lease.
package graphsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigil-dev/bbsgraph/internal/archive"
	"github.com/sigil-dev/bbsgraph/internal/inference"
	"github.com/sigil-dev/bbsgraph/internal/lease"
	"github.com/sigil-dev/bbsgraph/internal/metrics"
	"github.com/sigil-dev/bbsgraph/internal/retry"
	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const (
	defaultBatchSize        = 100
	defaultSequentialWindow = 20
	defaultChunkSize        = 20
	defaultContextWindow    = 50
	defaultLeaseTTL         = 10 * time.Minute

	// LeaseName is the lease every sync run holds.
	LeaseName = "sync"
)

// Mode selects where a run starts.
type Mode string

const (
	// ModeFull re-reads the archive from the beginning.
	ModeFull Mode = "full"
	// ModeIncremental continues after the sync watermark.
	ModeIncremental Mode = "incremental"
)

// ParseMode accepts "full" or "incremental".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeIncremental:
		return Mode(s), nil
	default:
		return "", sigilerr.Errorf(sigilerr.CodeSyncRequestInvalid,
			"invalid sync mode %q (want full or incremental)", s)
	}
}

// EngineConfig holds dependencies and tunables for the Engine.
type EngineConfig struct {
	Source archive.Reader
	Graph  store.GraphStore
	Leases lease.Manager

	// Inferrer finds reply edges. Nil disables reply inference.
	Inferrer inference.Inferrer
	// Policy filters inferred triples. Nil accepts at the default
	// minimum confidence.
	Policy *inference.Policy

	Metrics *metrics.Collector
	Logger  *slog.Logger

	// Owner identifies this process on the lease; empty uses lease.OwnerID.
	Owner string

	BatchSize        int
	SequentialWindow int
	ChunkSize        int
	ContextWindow    int
	LeaseTTL         time.Duration
	// ReadPolicy bounds retries of archive reads.
	ReadPolicy retry.Policy
}

// Report summarizes one run. Errors holds every failure seen, including
// the non-fatal ones that only skipped inference output.
type Report struct {
	Mode            Mode
	NodesCreated    int
	EdgesCreated    int
	ReplyEdges      int
	SequentialEdges int
	Batches         int
	LastSequenceNo  int64
	Skipped         int
	Errors          []error
	Duration        time.Duration
}

// Engine runs sync passes.
type Engine struct {
	source   archive.Reader
	graph    store.GraphStore
	leases   lease.Manager
	inferrer inference.Inferrer
	policy   *inference.Policy
	metrics  *metrics.Collector
	logger   *slog.Logger
	owner    string

	batchSize        int
	sequentialWindow int
	chunkSize        int
	contextWindow    int
	leaseTTL         time.Duration
	readPolicy       retry.Policy
}

// NewEngine validates cfg and fills in defaults.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Source == nil || cfg.Graph == nil || cfg.Leases == nil {
		return nil, sigilerr.New(sigilerr.CodeSyncRequestInvalid, "sync engine needs a source, a graph store and a lease manager")
	}

	policy := cfg.Policy
	if policy == nil {
		p, err := inference.NewPolicy(inference.DefaultMinConfidence, "")
		if err != nil {
			return nil, err
		}
		policy = p
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	owner := cfg.Owner
	if owner == "" {
		owner = lease.OwnerID()
	}

	readPolicy := cfg.ReadPolicy
	if readPolicy.MaxAttempts <= 0 {
		readPolicy = retry.DefaultPolicy()
	}

	return &Engine{
		source:           cfg.Source,
		graph:            cfg.Graph,
		leases:           cfg.Leases,
		inferrer:         cfg.Inferrer,
		policy:           policy,
		metrics:          cfg.Metrics,
		logger:           logger,
		owner:            owner,
		batchSize:        positive(cfg.BatchSize, defaultBatchSize),
		sequentialWindow: positive(cfg.SequentialWindow, defaultSequentialWindow),
		chunkSize:        positive(cfg.ChunkSize, defaultChunkSize),
		contextWindow:    positive(cfg.ContextWindow, defaultContextWindow),
		leaseTTL:         positiveDuration(cfg.LeaseTTL, defaultLeaseTTL),
		readPolicy:       readPolicy,
	}, nil
}

// Sync runs one pass. batchSize 0 uses the configured size. A failed batch
// stops the run without moving the watermark; batches committed before it
// stay committed. The returned report is never nil.
func (e *Engine) Sync(ctx context.Context, mode Mode, batchSize int) (*Report, error) {
	started := time.Now()
	report := &Report{Mode: mode}
	defer func() { report.Duration = time.Since(started) }()

	if _, err := ParseMode(string(mode)); err != nil {
		return report, err
	}
	if batchSize < 0 {
		return report, sigilerr.Errorf(sigilerr.CodeSyncRequestInvalid, "batch size must not be negative, got %d", batchSize)
	}
	if batchSize == 0 {
		batchSize = e.batchSize
	}

	if err := e.acquire(ctx); err != nil {
		return report, err
	}
	defer e.release(ctx)

	wms := e.graph.Watermarks()
	wm, err := wms.GetWatermark(ctx, store.WatermarkSync)
	if err != nil {
		return report, sigilerr.Wrap(err, sigilerr.CodeSyncBatchFailure, "reading sync watermark")
	}
	report.LastSequenceNo = wm.LastSequenceNo

	var from int64
	if mode == ModeIncremental && wm.IsSet() {
		from = wm.LastSequenceNo + 1
	}

	e.logger.Info("sync started", "mode", mode, "from", from, "batch_size", batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		posts, err := retry.Do(ctx, e.readPolicy, retry.Transient, func(ctx context.Context) ([]archive.Post, error) {
			return e.source.Fetch(ctx, from, batchSize)
		})
		if err != nil {
			err = sigilerr.Wrap(err, sigilerr.CodeSyncBatchFailure, "fetching posts", sigilerr.FieldSequenceNo(from))
			report.Errors = append(report.Errors, err)
			return report, err
		}
		if len(posts) == 0 {
			break
		}

		// Re-acquiring extends the lease for a long run.
		if err := e.acquire(ctx); err != nil {
			report.Errors = append(report.Errors, err)
			return report, err
		}

		batchStarted := time.Now()
		res, err := e.processBatch(ctx, posts)
		report.Errors = append(report.Errors, res.skipped...)
		report.Skipped += len(res.skipped)
		if err != nil {
			e.metrics.SyncBatch(false, time.Since(batchStarted))
			err = sigilerr.Wrap(err, sigilerr.CodeSyncBatchFailure, "processing batch",
				sigilerr.FieldSequenceNo(posts[0].SequenceNo))
			report.Errors = append(report.Errors, err)
			e.logger.Error("sync batch failed",
				"from", posts[0].SequenceNo, "to", posts[len(posts)-1].SequenceNo, "error", err)
			return report, err
		}

		last := posts[len(posts)-1].SequenceNo
		wm, err = wms.AdvanceWatermark(ctx, store.WatermarkSync, last, wm.Version)
		if err != nil {
			e.metrics.SyncBatch(false, time.Since(batchStarted))
			err = sigilerr.Wrap(err, sigilerr.CodeSyncBatchFailure, "advancing sync watermark",
				sigilerr.FieldSequenceNo(last))
			report.Errors = append(report.Errors, err)
			return report, err
		}

		report.Batches++
		report.NodesCreated += res.nodes
		report.ReplyEdges += res.reply
		report.SequentialEdges += res.sequential
		report.EdgesCreated += res.reply + res.sequential
		report.LastSequenceNo = wm.LastSequenceNo

		e.metrics.SyncBatch(true, time.Since(batchStarted))
		e.metrics.SyncCreated(res.nodes, res.reply, res.sequential)
		e.metrics.SyncWatermark(wm.LastSequenceNo)
		e.logger.Info("sync batch committed",
			"from", posts[0].SequenceNo,
			"to", last,
			"nodes_created", res.nodes,
			"reply_edges", res.reply,
			"sequential_edges", res.sequential,
			"skipped", len(res.skipped),
		)

		from = last + 1
		if len(posts) < batchSize {
			break
		}
	}

	e.logger.Info("sync finished",
		"mode", mode,
		"batches", report.Batches,
		"nodes_created", report.NodesCreated,
		"edges_created", report.EdgesCreated,
		"watermark", report.LastSequenceNo,
	)
	return report, nil
}

// Watch runs incremental passes every interval until ctx ends. Failed
// passes are logged and retried on the next tick.
func (e *Engine) Watch(ctx context.Context, batchSize int, interval time.Duration) error {
	if interval <= 0 {
		return sigilerr.Errorf(sigilerr.CodeSyncRequestInvalid, "watch interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := e.Sync(ctx, ModeIncremental, batchSize)
		switch {
		case ctx.Err() != nil:
			return nil
		case sigilerr.IsConflict(err):
			e.logger.Info("sync lease held by another process, waiting", "interval", interval)
		case err != nil:
			e.logger.Error("sync pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	_, err := e.leases.Acquire(ctx, LeaseName, e.owner, e.leaseTTL)
	if err == nil {
		return nil
	}
	if sigilerr.IsConflict(err) {
		return sigilerr.Reclassify(err, sigilerr.CodeSyncLeaseConflict, "another sync run holds the lease")
	}
	return sigilerr.Wrap(err, sigilerr.CodeSyncBatchFailure, "acquiring sync lease")
}

func (e *Engine) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.leases.Release(ctx, LeaseName, e.owner); err != nil {
		e.logger.Warn("releasing sync lease", "error", err)
	}
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func positiveDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
