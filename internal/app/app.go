// Package app builds and owns the long-lived services of a crawl process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/technews-ingest/internal/api"
	"github.com/JakeFAU/technews-ingest/internal/clock/system"
	"github.com/JakeFAU/technews-ingest/internal/config"
	"github.com/JakeFAU/technews-ingest/internal/crawler"
	collyfetcher "github.com/JakeFAU/technews-ingest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/technews-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/technews-ingest/internal/hash/sha256"
	"github.com/JakeFAU/technews-ingest/internal/id/uuid"
	"github.com/JakeFAU/technews-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/technews-ingest/internal/policy/retry"
	gcppublisher "github.com/JakeFAU/technews-ingest/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/technews-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/technews-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/technews-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/technews-ingest/internal/storage/postgres"
	"github.com/JakeFAU/technews-ingest/internal/telemetry"
)

// ErrNoDatabase is returned by Migrate when no database is configured.
var ErrNoDatabase = errors.New("no database configured: set db.dsn")

const shutdownTimeout = 5 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	repo      crawler.Repository
	postgres  *pgstore.Repository
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	renderers crawler.RendererFactory
	engine    *crawler.Engine
	runs      *api.RunTracker
	server    *http.Server
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

// Build creates the application's dependencies. On failure everything
// opened so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	steps := []func(context.Context) error{
		a.setupTelemetry,
		a.setupRepository,
		a.setupSnapshots,
		a.setupPublisher,
		a.setupRenderers,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	clock := system.New(cfg.Location())
	var hasher crawler.Hasher
	if a.blobs != nil {
		hasher = sha256.New()
	}
	a.engine = crawler.NewEngine(
		crawler.Config{
			Archive:        cfg.CrawlArchive(),
			Selectors:      cfg.Selectors,
			Location:       cfg.Location(),
			SnapshotPrefix: cfg.Snapshots.Prefix,
		},
		a.renderers,
		a.repo,
		a.blobs,
		a.publisher,
		hasher,
		clock,
		uuid.New(),
		logger.Named("crawler"),
	)
	a.runs = api.NewRunTracker(clock)

	logger.Info("application services initialized",
		zap.String("archive", cfg.Archive.BaseURL),
		zap.String("renderer", cfg.Renderer.Kind),
		zap.String("snapshots", cfg.Snapshots.Backend),
		zap.Bool("postgres", a.postgres != nil),
		zap.Bool("pubsub", a.publisher != nil),
	)
	return a, nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		ProjectID:   a.cfg.Telemetry.ProjectID,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	a.addCloser("tracer", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	})
	a.logger.Info("tracing enabled", zap.Bool("cloud_trace", a.cfg.Telemetry.ProjectID != ""))
	return nil
}

func (a *App) setupRepository(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, using in-memory repository")
		a.repo = memorystorage.NewRepository()
		return nil
	}
	repo, err := pgstore.New(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.addCloser("postgres", func() error { repo.Close(); return nil })
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.postgres = repo
	a.repo = repo
	a.logger.Info("postgres repository initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupSnapshots(ctx context.Context) error {
	switch a.cfg.Snapshots.Backend {
	case config.SnapshotsGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Snapshots.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", store.Close)
		a.blobs = store
		a.logger.Info("using GCS snapshot backend", zap.String("bucket", a.cfg.Snapshots.GCSBucket))
	case config.SnapshotsLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Snapshots.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local snapshot backend", zap.String("path", a.cfg.Snapshots.BaseDir))
	case config.SnapshotsMemory:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory snapshot backend")
	default:
		a.logger.Debug("snapshots disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, notifications disabled")
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser("pubsub", pub.Close)
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupRenderers(context.Context) error {
	headers := map[string]string{}
	if a.cfg.Renderer.AcceptLanguage != "" {
		headers["Accept-Language"] = a.cfg.Renderer.AcceptLanguage
	}

	var open crawler.RendererFactory
	switch a.cfg.Renderer.Kind {
	case config.RendererStatic:
		fcfg := collyfetcher.Config{
			UserAgent:     a.cfg.Renderer.UserAgent,
			RespectRobots: a.cfg.Renderer.RespectRobots,
			Timeout:       a.cfg.NavTimeout(),
			Headers:       headers,
		}
		open = func(context.Context) (crawler.Renderer, error) {
			return collyfetcher.New(fcfg), nil
		}
	case config.RendererHeadless:
		hcfg := headlessfetcher.Config{
			UserAgent:         a.cfg.Renderer.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			Settle:            a.cfg.Settle(),
			ExecPath:          a.cfg.Renderer.ExecPath,
			Headers:           headers,
		}
		open = func(context.Context) (crawler.Renderer, error) {
			r, err := headlessfetcher.New(hcfg)
			if err != nil {
				return nil, fmt.Errorf("headless renderer init failed: %w", err)
			}
			return r, nil
		}
	default:
		return fmt.Errorf("unknown renderer kind: %s", a.cfg.Renderer.Kind)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: a.cfg.Renderer.RequestsPerSecond,
		Burst:             a.cfg.Renderer.Burst,
	})
	policy := retry.Default()
	policy.MaxAttempts = a.cfg.Renderer.MaxAttempts
	retryLogger := a.logger.Named("retry")
	a.renderers = func(ctx context.Context) (crawler.Renderer, error) {
		r, err := open(ctx)
		if err != nil {
			return nil, err
		}
		paced := ratelimit.Wrap(r, limiter)
		if policy.MaxAttempts <= 1 {
			return paced, nil
		}
		return retry.Wrap(paced, policy, retryLogger), nil
	}
	a.logger.Info("renderer configured",
		zap.String("kind", a.cfg.Renderer.Kind),
		zap.String("user_agent", a.cfg.Renderer.UserAgent),
		zap.Int("max_attempts", policy.MaxAttempts),
		zap.Float64("requests_per_second", a.cfg.Renderer.RequestsPerSecond),
	)
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Runs returns the tracker reported by the operator server.
func (a *App) Runs() *api.RunTracker { return a.runs }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Crawl runs a bounded-range crawl and records it with the run tracker.
func (a *App) Crawl(ctx context.Context, from, to int) (crawler.Summary, error) {
	a.runs.Start(crawler.BoundedRange{}.Name())
	summary, err := a.engine.Crawl(ctx, from, to)
	a.runs.Finish(summary, err)
	return summary, err
}

// CrawlUnseen runs an unseen-only crawl and records it with the run tracker.
func (a *App) CrawlUnseen(ctx context.Context, maxPages int) (crawler.Summary, error) {
	a.runs.Start(crawler.UnseenOnly{}.Name())
	summary, err := a.engine.CrawlUnseen(ctx, maxPages)
	a.runs.Finish(summary, err)
	return summary, err
}

// Migrate applies the Postgres schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.postgres == nil {
		return ErrNoDatabase
	}
	if err := a.postgres.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema applied")
	return nil
}

// StartServer starts the operator HTTP server in the background when
// metrics.addr is set. It returns the bound address, or "" when disabled.
func (a *App) StartServer() (string, error) {
	if a.cfg.Metrics.Addr == "" {
		return "", nil
	}
	if a.server != nil {
		return "", errors.New("operator server already started")
	}
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", a.cfg.Metrics.Addr, err)
	}

	var pinger api.Pinger
	if a.postgres != nil {
		pinger = a.postgres
	}
	a.server = &http.Server{
		Handler:           api.NewServer(a.runs, pinger, a.logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	addr := ln.Addr().String()
	go func() {
		a.logger.Info("operator server started", zap.String("addr", addr))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("operator server error", zap.Error(err))
		}
	}()
	return addr, nil
}

// Close gracefully shuts down the server and every owned client. Errors are
// logged; Close is safe to call more than once.
func (a *App) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("operator server shutdown failed", zap.Error(err))
		}
		cancel()
		a.server = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
