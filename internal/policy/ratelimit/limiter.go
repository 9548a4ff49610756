// Package ratelimit paces page navigations with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
	"github.com/JakeFAU/technews-ingest/internal/metrics"
	"github.com/JakeFAU/technews-ingest/internal/page"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// Config holds rate limiter configuration. A non-positive
// RequestsPerSecond disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// Renderer waits on a Limiter before every navigation of the wrapped
// renderer.
type Renderer struct {
	inner   crawler.Renderer
	limiter *Limiter
}

// Wrap paces inner with limiter.
func Wrap(inner crawler.Renderer, limiter *Limiter) *Renderer {
	return &Renderer{inner: inner, limiter: limiter}
}

// Render implements crawler.Renderer.
func (r *Renderer) Render(ctx context.Context, url string) (*page.Content, error) {
	if err := r.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}
	content, err := r.inner.Render(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("paced render: %w", err)
	}
	return content, nil
}

// Close implements crawler.Renderer.
func (r *Renderer) Close() error {
	if err := r.inner.Close(); err != nil {
		return fmt.Errorf("close paced renderer: %w", err)
	}
	return nil
}
