// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/metrics"
	"github.com/sigil-dev/bbsgraph/internal/server"
	"github.com/sigil-dev/bbsgraph/pkg/health"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func newTestServer(t *testing.T, mutate ...func(*server.Config)) *server.Server {
	t.Helper()
	cfg := server.Config{ListenAddr: "127.0.0.1:0"}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := server.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func get(t *testing.T, srv *server.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_New_EmptyListenAddr(t *testing.T) {
	_, err := server.New(server.Config{})
	require.Error(t, err)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeServerConfigInvalid), "expected CodeServerConfigInvalid, got %s", sigilerr.CodeOf(err))
	assert.Contains(t, err.Error(), "listen address is required")
}

func TestServer_HealthEndpoint_Default(t *testing.T) {
	w := get(t, newTestServer(t), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestServer_HealthEndpoint_Report(t *testing.T) {
	srv := newTestServer(t, func(c *server.Config) {
		c.Health = func(context.Context) health.Report {
			return health.Report{
				Status:    "degraded",
				Nodes:     42,
				Edges:     80,
				Vectors:   40,
				Watermark: 42,
				Providers: map[string]health.Metrics{"openai": {Available: false, ConsecutiveFailures: 3}},
			}
		}
	})

	w := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, int64(42), report.Nodes)
	assert.Equal(t, int64(42), report.Watermark)
	assert.Equal(t, 3, report.Providers["openai"].ConsecutiveFailures)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.SyncWatermark(17)
	srv := newTestServer(t, func(c *server.Config) { c.Metrics = m.Handler() })

	w := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bbsgraph_sync_watermark_sequence_no 17")
}

func TestServer_MetricsEndpoint_AbsentWithoutCollector(t *testing.T) {
	w := get(t, newTestServer(t), "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_OpenAPISpecIncludesAsk(t *testing.T) {
	w := get(t, newTestServer(t), "/openapi.json")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "/api/v1/ask")
	assert.Contains(t, body, `"operationId":"ask"`)
	assert.Contains(t, body, "/health")
}

func TestServer_SecurityHeaders(t *testing.T) {
	w := get(t, newTestServer(t), "/health")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "0", w.Header().Get("X-XSS-Protection"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestServer_HSTSHeader_WhenEnabled(t *testing.T) {
	w := get(t, newTestServer(t, func(c *server.Config) { c.EnableHSTS = true }), "/health")
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestServer_CORSOrigins(t *testing.T) {
	preflight := func(srv *server.Server, origin string) string {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w.Header().Get("Access-Control-Allow-Origin")
	}

	configured := newTestServer(t, func(c *server.Config) {
		c.CORSOrigins = []string{"https://bbs.example.com"}
	})
	assert.Equal(t, "https://bbs.example.com", preflight(configured, "https://bbs.example.com"))
	assert.Empty(t, preflight(configured, "https://evil.example.com"))

	assert.Empty(t, preflight(newTestServer(t), "http://localhost:5173"), "no origins configured rejects all")
}

func TestServer_CORSOrigins_WildcardRejected(t *testing.T) {
	_, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		CORSOrigins: []string{"*"},
	})
	require.Error(t, err)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeServerConfigInvalid))
	assert.Contains(t, err.Error(), "CORS origin")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     server.Config
		wantErr string
	}{
		{"negative timeout", server.Config{ListenAddr: ":0", ReadTimeout: -time.Second}, "timeouts"},
		{"negative question length", server.Config{ListenAddr: ":0", MaxQuestionLength: -1}, "question length"},
		{"rate without burst", server.Config{ListenAddr: ":0", RateLimit: server.RateLimitConfig{RequestsPerSecond: 1}}, "burst"},
		{"negative rate", server.Config{ListenAddr: ":0", RateLimit: server.RateLimitConfig{RequestsPerSecond: -1}}, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_AppliesDefaults(t *testing.T) {
	cfg := server.Config{ListenAddr: ":0"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 2000, cfg.MaxQuestionLength)
	assert.Equal(t, 10000, cfg.RateLimit.MaxVisitors)
	assert.NotNil(t, cfg.Logger)
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	<-ctx.Done()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}
}

func TestServer_StartFailsOnBadAddress(t *testing.T) {
	srv := newTestServer(t, func(c *server.Config) { c.ListenAddr = "256.0.0.1:99999" })

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeServerStartFailure))
}
