// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package metrics holds the Prometheus instruments for sync, indexing and
// question answering. Every method is safe on a nil *Collector so callers
// can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bbsgraph"

// Collector owns a private registry and the application's instruments.
type Collector struct {
	registry *prometheus.Registry

	syncNodes          prometheus.Counter
	syncEdges          *prometheus.CounterVec
	syncBatches        *prometheus.CounterVec
	syncBatchDuration  prometheus.Histogram
	syncInferenceSkips *prometheus.CounterVec
	syncWatermark      prometheus.Gauge

	indexEmbedded prometheus.Counter
	indexBatches  *prometheus.CounterVec

	askRequests      *prometheus.CounterVec
	askStageDuration *prometheus.HistogramVec
	askTokens        prometheus.Counter
	askInflight      prometheus.Gauge
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		syncNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "nodes_created_total",
			Help: "Post nodes created by sync.",
		}),
		syncEdges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "edges_created_total",
			Help: "Edges created by sync, by edge type.",
		}, []string{"type"}),
		syncBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "batches_total",
			Help: "Sync batches by result.",
		}, []string{"result"}),
		syncBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync",
			Name:    "batch_duration_seconds",
			Help:    "Wall time of one sync batch including inference.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		syncInferenceSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "inference_skipped_total",
			Help: "Inferred triples or chunks skipped, by reason.",
		}, []string{"reason"}),
		syncWatermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "watermark_sequence_no",
			Help: "Last sequence number committed by sync.",
		}),
		indexEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "index",
			Name: "vectors_written_total",
			Help: "Node embeddings written to the vector index.",
		}),
		indexBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "index",
			Name: "batches_total",
			Help: "Indexing batches by result.",
		}, []string{"result"}),
		askRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ask",
			Name: "requests_total",
			Help: "Questions answered, by final workflow state.",
		}, []string{"state"}),
		askStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ask",
			Name:    "stage_duration_seconds",
			Help:    "Time spent in each retrieval workflow state.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		askTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ask",
			Name: "streamed_units_total",
			Help: "Generated text units streamed to callers.",
		}),
		askInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ask",
			Name: "inflight",
			Help: "Questions currently being answered.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.syncNodes, c.syncEdges, c.syncBatches, c.syncBatchDuration,
		c.syncInferenceSkips, c.syncWatermark,
		c.indexEmbedded, c.indexBatches,
		c.askRequests, c.askStageDuration, c.askTokens, c.askInflight,
	)
	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// SyncBatch records one committed or failed batch.
func (c *Collector) SyncBatch(ok bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.syncBatches.WithLabelValues(result).Inc()
	c.syncBatchDuration.Observe(d.Seconds())
}

// SyncCreated adds created nodes and edges by type.
func (c *Collector) SyncCreated(nodes, reply, sequential int) {
	if c == nil {
		return
	}
	c.syncNodes.Add(float64(nodes))
	c.syncEdges.WithLabelValues("REPLY_TO").Add(float64(reply))
	c.syncEdges.WithLabelValues("SEQUENTIAL_TO").Add(float64(sequential))
}

// SyncSkipped counts skipped inference output; reason is e.g.
// "missing_node", "invalid_response", "policy".
func (c *Collector) SyncSkipped(reason string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.syncInferenceSkips.WithLabelValues(reason).Add(float64(n))
}

// SyncWatermark sets the committed watermark gauge.
func (c *Collector) SyncWatermark(seq int64) {
	if c == nil {
		return
	}
	c.syncWatermark.Set(float64(seq))
}

// IndexBatch records one indexing batch of n vectors.
func (c *Collector) IndexBatch(ok bool, n int) {
	if c == nil {
		return
	}
	if ok {
		c.indexBatches.WithLabelValues("ok").Inc()
		c.indexEmbedded.Add(float64(n))
		return
	}
	c.indexBatches.WithLabelValues("failed").Inc()
}

// AskStarted marks a question in flight and returns the func that ends it
// with the final state.
func (c *Collector) AskStarted() func(state string) {
	if c == nil {
		return func(string) {}
	}
	c.askInflight.Inc()
	return func(state string) {
		c.askInflight.Dec()
		c.askRequests.WithLabelValues(state).Inc()
	}
}

// AskStage records the time spent in a workflow state.
func (c *Collector) AskStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.askStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AskUnits counts streamed generation units.
func (c *Collector) AskUnits(n int) {
	if c == nil {
		return
	}
	c.askTokens.Add(float64(n))
}
