package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/technews-ingest/internal/jalali"
	"github.com/JakeFAU/technews-ingest/internal/metrics"
	"github.com/JakeFAU/technews-ingest/internal/page"
)

var tracer = otel.Tracer("github.com/JakeFAU/technews-ingest/internal/crawler")

// Config carries the static settings of an Engine.
type Config struct {
	Archive        Archive
	Selectors      Selectors
	Location       *time.Location
	SnapshotPrefix string
}

// Engine runs crawls. Each run opens its own Renderer and processes links
// strictly in listing order; an Engine may run several crawls concurrently
// against the same Repository.
type Engine struct {
	cfg        Config
	renderers  RendererFactory
	repo       Repository
	blobs      BlobStore
	publisher  Publisher
	hasher     Hasher
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
	extractor  *Extractor
	reconciler *LabelReconciler
	committer  *Committer
}

// NewEngine wires an Engine. blobs, publisher and hasher are optional;
// snapshots are written only when both blobs and hasher are set.
func NewEngine(
	cfg Config,
	renderers RendererFactory,
	repo Repository,
	blobs BlobStore,
	publisher Publisher,
	hasher Hasher,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Engine {
	if cfg.Location == nil {
		cfg.Location = jalali.LoadLocation(jalali.DefaultTimezone)
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Engine{
		cfg:        cfg,
		renderers:  renderers,
		repo:       repo,
		blobs:      blobs,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		logger:     logger,
		extractor:  NewExtractor(cfg.Selectors, cfg.Location),
		reconciler: NewLabelReconciler(repo),
		committer:  NewCommitter(repo, clock, cfg.Location),
	}
}

// Crawl ingests every link on listing pages from..to inclusive.
func (e *Engine) Crawl(ctx context.Context, from, to int) (Summary, error) {
	policy := BoundedRange{From: from, To: to}
	if err := policy.Validate(); err != nil {
		return Summary{Policy: policy.Name()}, err
	}
	return e.run(ctx, policy)
}

// CrawlUnseen ingests the links that precede the first already-stored link,
// reading at most maxPages listing pages.
func (e *Engine) CrawlUnseen(ctx context.Context, maxPages int) (Summary, error) {
	policy := UnseenOnly{MaxPages: maxPages}
	if err := policy.Validate(); err != nil {
		return Summary{Policy: policy.Name()}, err
	}
	seen, err := e.repo.ExistingSourceURLs(ctx)
	if err != nil {
		return Summary{Policy: policy.Name()}, storeErr("load source urls", err)
	}
	policy.Seen = seen
	return e.run(ctx, policy)
}

func (e *Engine) run(ctx context.Context, policy Policy) (Summary, error) {
	start := e.clock.Now()
	summary := Summary{RunID: e.newRunID(), Policy: policy.Name()}
	logger := e.logger.With(zap.String("run_id", summary.RunID), zap.String("policy", policy.Name()))
	ctx, span := tracer.Start(ctx, "crawl."+policy.Name(), trace.WithAttributes(
		attribute.String("crawl.run_id", summary.RunID),
	))
	defer span.End()

	renderer, err := e.renderers(ctx)
	if err != nil {
		metrics.ObserveRun(policy.Name(), "error", 0)
		span.SetStatus(codes.Error, "open renderer")
		span.RecordError(err)
		return summary, fmt.Errorf("open renderer: %w", err)
	}
	defer func() {
		if cerr := renderer.Close(); cerr != nil {
			logger.Warn("renderer close failed", zap.Error(cerr))
		}
	}()

	logger.Info("crawl started")
	walk := NewWalker(renderer, e.cfg.Archive, e.cfg.Selectors.ListingLink, logger).Walk(ctx, policy)
	var runErr error
	for link := range walk.Links() {
		if runErr = e.ingest(ctx, renderer, link, &summary, logger); runErr != nil {
			break
		}
	}
	if runErr == nil {
		runErr = walk.Err()
	}

	summary.PagesVisited = walk.PagesVisited
	summary.LinksDiscovered = walk.LinksDiscovered
	summary.StoppedAtKnown = walk.StoppedAtKnown
	summary.Duration = e.clock.Now().Sub(start)

	fields := summaryFields(summary)
	span.SetAttributes(
		attribute.Int("crawl.pages_visited", summary.PagesVisited),
		attribute.Int("crawl.records_created", summary.RecordsCreated),
		attribute.Int("crawl.records_skipped", summary.RecordsSkipped),
	)
	if runErr != nil {
		span.SetStatus(codes.Error, "crawl aborted")
		span.RecordError(runErr)
		metrics.ObserveRun(policy.Name(), "error", summary.Duration)
		logger.Error("crawl aborted", append(fields, zap.Error(runErr))...)
		return summary, runErr
	}
	metrics.ObserveRun(policy.Name(), "success", summary.Duration)
	logger.Info("crawl finished", fields...)
	return summary, nil
}

// ingest processes one detail link. Only store failures, a closed renderer
// and context cancellation are returned; everything else is counted and
// skipped.
func (e *Engine) ingest(
	ctx context.Context,
	renderer Renderer,
	link string,
	summary *Summary,
	logger *zap.Logger,
) error {
	logger = logger.With(zap.String("url", link))
	ctx, span := tracer.Start(ctx, "ingest", trace.WithAttributes(attribute.String("url.full", link)))
	defer span.End()

	content, err := renderer.Render(ctx, link)
	if err != nil {
		if errors.Is(err, ErrRendererClosed) || ctx.Err() != nil {
			return fmt.Errorf("render %s: %w", link, err)
		}
		summary.FetchFailures++
		span.SetAttributes(attribute.String("ingest.outcome", "fetch_failed"))
		metrics.ObservePage("fetch_failed")
		logger.Warn("detail page fetch failed", zap.Error(err))
		return nil
	}

	cand, reason := e.extractor.Extract(content)
	cand.SourceURL = link
	if reason != ReasonNone {
		summary.PagesUnusable++
		span.SetAttributes(attribute.String("ingest.outcome", "unusable"))
		metrics.ObservePage("unusable")
		logger.Warn("skipping unusable page", zap.String("reason", string(reason)))
		return nil
	}

	labels, created, err := e.reconciler.Resolve(ctx, cand.Labels)
	if err != nil {
		return err
	}
	summary.LabelsCreated += created
	metrics.ObserveLabelsCreated(created)

	rec, outcome, err := e.committer.Commit(ctx, cand, labels)
	if err != nil {
		return err
	}
	if outcome == CommitDuplicate {
		summary.RecordsSkipped++
		span.SetAttributes(attribute.String("ingest.outcome", "duplicate"))
		metrics.ObservePage("duplicate")
		logger.Debug("record already stored", zap.String("title", cand.Title))
		return nil
	}

	summary.RecordsCreated++
	span.SetAttributes(attribute.String("ingest.outcome", "created"), attribute.Int64("record.id", rec.ID))
	metrics.ObservePage("created")
	logger.Info("record created",
		zap.Int64("record_id", rec.ID),
		zap.String("title", rec.Title),
		zap.Int("labels", len(rec.Labels)),
	)
	e.snapshot(ctx, rec, content, logger)
	e.notify(ctx, summary.RunID, rec, logger)
	return nil
}

// snapshot stores the rendered HTML of a committed page. Failures are
// logged; the record stays committed.
func (e *Engine) snapshot(ctx context.Context, rec Record, content *page.Content, logger *zap.Logger) {
	if e.blobs == nil || e.hasher == nil {
		return
	}
	name := e.hasher.Hash([]byte(rec.SourceURL)) + ".html"
	if prefix := strings.Trim(e.cfg.SnapshotPrefix, "/"); prefix != "" {
		name = prefix + "/" + name
	}
	uri, err := e.blobs.PutObject(ctx, name, "text/html; charset=utf-8", strings.NewReader(content.HTML()))
	if err != nil {
		logger.Warn("snapshot write failed", zap.Error(err))
		return
	}
	logger.Debug("snapshot stored", zap.String("uri", uri))
}

// RecordCreatedEvent is the notification payload for a new record.
type RecordCreatedEvent struct {
	RunID           string    `json:"run_id"`
	RecordID        int64     `json:"record_id"`
	Title           string    `json:"title"`
	SourceURL       string    `json:"source_url"`
	PublishedAt     time.Time `json:"published_at"`
	PublishedJalali string    `json:"published_jalali,omitempty"`
	Labels          []string  `json:"labels"`
}

func (e *Engine) notify(ctx context.Context, runID string, rec Record, logger *zap.Logger) {
	if e.publisher == nil {
		return
	}
	evt := RecordCreatedEvent{
		RunID:       runID,
		RecordID:    rec.ID,
		Title:       rec.Title,
		SourceURL:   rec.SourceURL,
		PublishedAt: rec.PublishedAt,
		Labels:      make([]string, 0, len(rec.Labels)),
	}
	if d, err := jalali.FromTime(rec.PublishedAt.In(e.cfg.Location)); err == nil {
		evt.PublishedJalali = d.String()
	}
	for _, l := range rec.Labels {
		evt.Labels = append(evt.Labels, l.Text)
	}
	attrs := map[string]string{"event": "record.created", "run_id": runID}
	id, err := e.publisher.Publish(ctx, evt, attrs)
	if err != nil {
		logger.Warn("record notification failed", zap.Error(err))
		return
	}
	logger.Debug("record notification published", zap.String("message_id", id))
}

func (e *Engine) newRunID() string {
	if e.ids == nil {
		return ""
	}
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func summaryFields(s Summary) []zap.Field {
	return []zap.Field{
		zap.Int("pages_visited", s.PagesVisited),
		zap.Int("links_discovered", s.LinksDiscovered),
		zap.Int("records_created", s.RecordsCreated),
		zap.Int("records_skipped", s.RecordsSkipped),
		zap.Int("pages_unusable", s.PagesUnusable),
		zap.Int("fetch_failures", s.FetchFailures),
		zap.Int("labels_created", s.LabelsCreated),
		zap.Bool("stopped_at_known", s.StoppedAtKnown),
		zap.Duration("duration", s.Duration),
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
