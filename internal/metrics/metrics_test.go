// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/metrics"
)

func TestCollector_RecordsSyncAndAsk(t *testing.T) {
	c := metrics.New()

	c.SyncCreated(3, 1, 2)
	c.SyncBatch(true, 10*time.Millisecond)
	c.SyncBatch(false, time.Millisecond)
	c.SyncSkipped("missing_node", 2)
	c.SyncWatermark(42)
	c.IndexBatch(true, 5)

	done := c.AskStarted()
	c.AskStage("GENERATING", 5*time.Millisecond)
	c.AskUnits(7)
	done("DONE")

	count, err := testutil.GatherAndCount(c.Registry(),
		"bbsgraph_sync_nodes_created_total",
		"bbsgraph_sync_edges_created_total",
		"bbsgraph_sync_batches_total",
		"bbsgraph_ask_requests_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "bbsgraph_sync_watermark_sequence_no 42")
	assert.Contains(t, string(body), `bbsgraph_ask_requests_total{state="DONE"} 1`)
	assert.Contains(t, string(body), "bbsgraph_index_vectors_written_total 5")
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.SyncCreated(1, 1, 1)
		c.SyncBatch(true, time.Second)
		c.SyncSkipped("policy", 1)
		c.SyncWatermark(1)
		c.IndexBatch(false, 0)
		c.AskStarted()("FAILED")
		c.AskStage("TRAVERSING", time.Second)
		c.AskUnits(1)
		_ = c.Handler()
	})
}
