// Package collyfetcher renders pages with plain HTTP GETs through gocolly.
// No JavaScript is executed; it suits archives served as static HTML.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
	"github.com/JakeFAU/technews-ingest/internal/page"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       map[string]string
}

// Renderer implements crawler.Renderer using a Colly collector.
type Renderer struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector

	mu     sync.Mutex
	closed bool
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// result is filled by the collector callbacks of one visit.
type result struct {
	url    string
	status int
	body   []byte
	err    error
}

// New builds a Renderer.
func New(cfg Config) *Renderer {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	if cfg.RespectRobots {
		c.WithTransport(&robotsAwareTransport{base: transport})
	} else {
		c.WithTransport(transport)
	}
	return &Renderer{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Close releases idle connections. Later Render calls fail with
// crawler.ErrRendererClosed.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.transport.CloseIdleConnections()
	}
	return nil
}

// Render executes a single HTTP GET and parses the response body.
func (r *Renderer) Render(ctx context.Context, url string) (*page.Content, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, crawler.ErrRendererClosed
	}

	var res result
	collector := r.buildCollector(&res)
	err := runCollector(ctx, collector, url)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	if res.status >= http.StatusBadRequest {
		return nil, &crawler.StatusError{URL: url, Status: res.status}
	}
	if err == nil {
		err = res.err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", crawler.ErrNavigation, url, err)
	}
	finalURL := res.url
	if finalURL == "" {
		finalURL = url
	}
	return page.Parse(finalURL, res.body)
}

func (r *Renderer) buildCollector(res *result) *colly.Collector {
	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !r.cfg.RespectRobots
	timeout := r.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	r.configureCollectorHooks(collector, res)
	return collector
}

func (r *Renderer) configureCollectorHooks(hooks collectorHooks, res *result) {
	hooks.OnRequest(func(req *colly.Request) {
		for key, value := range r.cfg.Headers {
			req.Headers.Set(key, value)
		}
	})

	hooks.OnResponse(func(resp *colly.Response) {
		res.url = resp.Request.URL.String()
		res.status = resp.StatusCode
		res.body = append([]byte(nil), resp.Body...)
	})

	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil {
			res.status = resp.StatusCode
		}
		res.err = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
