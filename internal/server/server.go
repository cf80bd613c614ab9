// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package server exposes the ask workflow over HTTP: an SSE (or JSON)
// answer endpoint, a health report and the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sigil-dev/bbsgraph/pkg/health"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const (
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 3 * time.Minute
	defaultMaxQuestionLength = 2000
)

// HealthFunc builds the health report served on /health.
type HealthFunc func(ctx context.Context) health.Report

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr  string
	CORSOrigins []string
	// WriteTimeout bounds a whole response, so it must outlast the
	// slowest answer stream.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	EnableHSTS   bool
	// MaxQuestionLength caps a question in runes.
	MaxQuestionLength int
	RateLimit         RateLimitConfig

	// AskHandler serves /api/v1/ask; nil answers 503.
	AskHandler AskHandler
	// Health reports store and provider state; nil reports "ok".
	Health HealthFunc
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Validate checks cfg and fills in defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return sigilerr.New(sigilerr.CodeServerConfigInvalid, "listen address is required")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" {
			return sigilerr.New(sigilerr.CodeServerConfigInvalid,
				"CORS origin \"*\" is not allowed; list origins explicitly")
		}
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return sigilerr.New(sigilerr.CodeServerConfigInvalid, "timeouts must not be negative")
	}
	if c.MaxQuestionLength < 0 {
		return sigilerr.New(sigilerr.CodeServerConfigInvalid, "max question length must not be negative")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxQuestionLength == 0 {
		c.MaxQuestionLength = defaultMaxQuestionLength
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router    chi.Router
	api       huma.API
	cfg       Config
	validator *requestValidator
}

// New creates a Server with chi router, huma API, health, ask and metrics
// endpoints.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(securityHeaders(cfg.EnableHSTS))
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// Huma API with OpenAPI spec
	humaConfig := huma.DefaultConfig("bbsgraph", "0.1.0")
	humaConfig.Info.Description = "Question answering over a forum archive knowledge graph"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:    r,
		api:       api,
		cfg:       cfg,
		validator: newRequestValidator(cfg.MaxQuestionLength),
	}

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, srv.handleHealth)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	srv.registerAskRoute()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeServerStartFailure, "listening on %s: %w", s.cfg.ListenAddr, err)
	}
	s.cfg.Logger.Info("http server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- sigilerr.Errorf(sigilerr.CodeServerStartFailure, "serving: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return sigilerr.Errorf(sigilerr.CodeServerShutdownFailure, "shutting down: %w", err)
	}

	return <-errCh
}

// Close releases server resources. The listener itself is owned by Start.
func (s *Server) Close() error {
	return nil
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body health.Report
}

func (s *Server) handleHealth(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
	if s.cfg.Health == nil {
		return &HealthResponse{Body: health.Report{Status: "ok"}}, nil
	}
	return &HealthResponse{Body: s.cfg.Health(ctx)}, nil
}

func securityHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; frame-ancestors 'none'")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware allows only the configured origins. With none configured,
// cross-origin requests get no CORS headers.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
