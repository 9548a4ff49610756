// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
	"github.com/JakeFAU/technews-ingest/internal/page"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the behavior of the headless renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready, for late
	// client-side rendering.
	Settle time.Duration
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	Headers  map[string]string
}

// Renderer implements crawler.Renderer with one browser per instance. Each
// Render opens a fresh tab in that browser.
type Renderer struct {
	cfg           Config
	browser       context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc

	// renderMu serializes Render; mu guards closed only, so Close never
	// waits for a navigation in flight.
	renderMu sync.Mutex
	mu       sync.Mutex
	closed   bool
}

// New prepares a browser. Chrome is started lazily by the first Render.
func New(cfg Config) (*Renderer, error) {
	if cfg.NavigationTimeout < 0 || cfg.Settle < 0 {
		return nil, fmt.Errorf("headless timeouts must be >= 0")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Renderer{
		cfg:           cfg,
		browser:       browserCtx,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
	}, nil
}

// Close shuts the browser down. A Render in flight and every later Render
// fail with crawler.ErrRendererClosed.
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.browserCancel()
	r.allocCancel()
	return nil
}

func (r *Renderer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Render navigates to url in a new tab and returns the DOM once it has
// settled. Renders are serialized.
func (r *Renderer) Render(ctx context.Context, url string) (*page.Content, error) {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()
	if r.isClosed() {
		return nil, crawler.ErrRendererClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browser)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, r.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	html, finalURL, err := r.run(tabCtx, url)
	if err != nil {
		if r.isClosed() || r.browser.Err() != nil {
			return nil, fmt.Errorf("render %s: %w", url, crawler.ErrRendererClosed)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render %s: %w", url, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", crawler.ErrNavigation, url, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if status >= http.StatusBadRequest {
		return nil, &crawler.StatusError{URL: url, Status: status}
	}
	return page.Parse(responseURL, []byte(html))
}

func (r *Renderer) run(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settle()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(r.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(r.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (r *Renderer) settle() time.Duration {
	if r.cfg.Settle > 0 {
		return r.cfg.Settle
	}
	return defaultSettle
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks prefers the browser location over the response URL
// so client-side redirects are honored. A missing status means the page was
// served from cache or a service worker and is treated as 200.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "" && finalURL != "about:blank":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := make(network.Headers, len(h))
	for key, value := range h {
		headers[key] = value
	}
	return headers
}
