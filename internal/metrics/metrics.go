// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	listingPagesTotal          *prometheus.CounterVec
	linksDiscoveredTotal       *prometheus.CounterVec
	detailPagesTotal           *prometheus.CounterVec
	labelsCreatedTotal         prometheus.Counter
	robotsFallbacksTotal       prometheus.Counter
	fetchRetriesTotal          prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "technews_runs_total",
				Help: "Crawl runs, labeled by traversal policy and outcome.",
			},
			[]string{"policy", "outcome"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "technews_run_duration_seconds",
				Help:    "Wall time of crawl runs, labeled by traversal policy.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"policy"},
		)

		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "technews_listing_pages_total",
				Help: "Archive listing pages visited, labeled by traversal policy.",
			},
			[]string{"policy"},
		)

		linksDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "technews_links_discovered_total",
				Help: "Detail links emitted by the archive walk, labeled by traversal policy.",
			},
			[]string{"policy"},
		)

		detailPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "technews_detail_pages_total",
				Help: "Detail pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		labelsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "technews_labels_created_total",
				Help: "Labels created during reconciliation.",
			},
		)

		robotsFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "technews_robots_fallbacks_total",
				Help: "robots.txt probes that timed out and were treated as allow-all.",
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "technews_fetch_retries_total",
				Help: "Page navigations retried after a transient failure.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "technews_rate_limit_delay_seconds",
				Help:    "Time navigations waited for the per-host rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a finished crawl run.
func ObserveRun(policy, outcome string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(policy, outcome).Inc()
	runDurationSeconds.WithLabelValues(policy).Observe(duration.Seconds())
}

// ObserveListingPage counts one listing page fetch attempt.
func ObserveListingPage(policy string) {
	Init()
	listingPagesTotal.WithLabelValues(policy).Inc()
}

// ObserveLinkDiscovered counts one detail link emitted by a walk.
func ObserveLinkDiscovered(policy string) {
	Init()
	linksDiscoveredTotal.WithLabelValues(policy).Inc()
}

// ObservePage counts one detail page by outcome
// (created, duplicate, unusable, fetch_failed).
func ObservePage(outcome string) {
	Init()
	detailPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveLabelsCreated adds n newly created labels.
func ObserveLabelsCreated(n int) {
	if n <= 0 {
		return
	}
	Init()
	labelsCreatedTotal.Add(float64(n))
}

// ObserveRobotsFallback counts a robots.txt probe replaced by allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbacksTotal.Inc()
}

// ObserveFetchRetry counts a retried navigation.
func ObserveFetchRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveRateLimitDelay records how long a navigation waited for host.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
