// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// RateLimitConfig limits questions per client IP. Every question costs an
// embedding and a generation call.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxVisitors caps tracked IPs; the least recently seen are evicted.
	MaxVisitors int
}

// Validate checks c and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return sigilerr.Errorf(sigilerr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return sigilerr.Errorf(sigilerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)", c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return sigilerr.Errorf(sigilerr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = 10000
	}
	return nil
}

const visitorTTL = 10 * time.Minute

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// limiter is a per-IP token bucket.
type limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu       sync.Mutex
	visitors map[string]*bucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{cfg: cfg, now: time.Now, visitors: make(map[string]*bucket)}
}

func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.visitors[ip]
	if !ok {
		if len(l.visitors) >= l.cfg.MaxVisitors {
			l.evictLocked(now)
		}
		b = &bucket{tokens: float64(l.cfg.Burst), lastSeen: now}
		l.visitors[ip] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.cfg.RequestsPerSecond
	if b.tokens > float64(l.cfg.Burst) {
		b.tokens = float64(l.cfg.Burst)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictLocked drops stale visitors, then the oldest one if still full.
func (l *limiter) evictLocked(now time.Time) {
	var (
		oldestIP string
		oldest   time.Time
	)
	for ip, b := range l.visitors {
		if now.Sub(b.lastSeen) > visitorTTL {
			delete(l.visitors, ip)
			continue
		}
		if oldestIP == "" || b.lastSeen.Before(oldest) {
			oldestIP, oldest = ip, b.lastSeen
		}
	}
	if len(l.visitors) >= l.cfg.MaxVisitors && oldestIP != "" {
		delete(l.visitors, oldestIP)
	}
}

// rateLimit wraps next with the per-IP limit. A zero rate passes through.
func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.RateLimit.RequestsPerSecond <= 0 {
		return next
	}
	l := newLimiter(s.cfg.RateLimit)

	return func(w http.ResponseWriter, r *http.Request) {
		// Limit by IP, not by connection: RealIP has already rewritten
		// RemoteAddr when a proxy header is present.
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			s.cfg.Logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}
