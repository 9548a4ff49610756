// Package retry re-attempts page navigations that failed transiently.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
	"github.com/JakeFAU/technews-ingest/internal/metrics"
	"github.com/JakeFAU/technews-ingest/internal/page"
)

// Policy is an exponential backoff with jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default returns three attempts starting at 250ms.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry decides whether a navigation that failed on attempt (1-based)
// is worth another try. Closed renderers, cancellations and client-error
// statuses are final.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, crawler.ErrRendererClosed) || !errors.Is(err, crawler.ErrNavigation) {
		return false
	}
	var statusErr *crawler.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// Backoff returns the wait before attempt+1.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	if half <= 0 {
		return 0
	}
	return half + rand.N(half)
}

// Renderer retries the wrapped renderer according to a Policy.
type Renderer struct {
	inner  crawler.Renderer
	policy Policy
	logger *zap.Logger
}

// Wrap applies policy to inner.
func Wrap(inner crawler.Renderer, policy Policy, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{inner: inner, policy: policy, logger: logger}
}

// Render implements crawler.Renderer.
func (r *Renderer) Render(ctx context.Context, url string) (*page.Content, error) {
	for attempt := 1; ; attempt++ {
		content, err := r.inner.Render(ctx, url)
		if err == nil {
			return content, nil
		}
		if !r.policy.ShouldRetry(err, attempt) {
			return nil, err
		}
		wait := r.policy.Backoff(attempt)
		r.logger.Debug("retrying navigation",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry %s: %w", url, ctx.Err())
		case <-timer.C:
		}
	}
}

// Close implements crawler.Renderer.
func (r *Renderer) Close() error {
	return r.inner.Close()
}
