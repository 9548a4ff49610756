package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
	"github.com/JakeFAU/technews-ingest/internal/hash/sha256"
	"github.com/JakeFAU/technews-ingest/internal/jalali"
	"github.com/JakeFAU/technews-ingest/internal/page"
	pubmem "github.com/JakeFAU/technews-ingest/internal/publisher/memory"
	"github.com/JakeFAU/technews-ingest/internal/storage/memory"
)

const base = "https://news.test"

var engineSelectors = crawler.Selectors{
	ListingLink: "a.news",
	Title:       "h1.title",
	Body:        "p.body",
	Labels:      "span.tag",
	PublishedAt: "span.date",
}

func listing(n int) string {
	return fmt.Sprintf("%s/archive/?pageNumber=%d", base, n)
}

func listingPage(paths ...string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, `<a class="news" href="%s">x</a>`, p)
	}
	return "<html><body>" + b.String() + "</body></html>"
}

func article(title, date string, labels ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><h1 class="title">%s</h1><span class="date">%s</span><p class="body">Body of %s</p>`, title, date, title)
	for _, l := range labels {
		fmt.Fprintf(&b, `<span class="tag">%s</span>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// site is a fake archive. Every renderer it opens shares the same pages.
type site struct {
	mu     sync.Mutex
	pages  map[string]string
	opened int
	closed int
	visits []string
}

func newSite(pages map[string]string) *site {
	return &site{pages: pages}
}

func (s *site) set(url, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = html
}

func (s *site) factory(context.Context) (crawler.Renderer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return &siteRenderer{site: s}, nil
}

func (s *site) navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

func (s *site) balanced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened == s.closed
}

type siteRenderer struct {
	site   *site
	closed bool
}

func (r *siteRenderer) Render(_ context.Context, url string) (*page.Content, error) {
	if r.closed {
		return nil, crawler.ErrRendererClosed
	}
	r.site.mu.Lock()
	r.site.visits = append(r.site.visits, url)
	html, ok := r.site.pages[url]
	r.site.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: 404 %s", crawler.ErrNavigation, url)
	}
	return page.Parse(url, []byte(html))
}

func (r *siteRenderer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.site.mu.Lock()
	r.site.closed++
	r.site.mu.Unlock()
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type fixture struct {
	site   *site
	repo   crawler.Repository
	store  *memory.Repository
	blobs  *memory.BlobStore
	events *pubmem.Publisher
	engine *crawler.Engine
	now    time.Time
}

func newFixture(t *testing.T, pages map[string]string, wrap func(crawler.Repository) crawler.Repository) *fixture {
	t.Helper()
	f := &fixture{
		site:   newSite(pages),
		store:  memory.NewRepository(),
		blobs:  memory.NewBlobStore(),
		events: pubmem.New(),
		now:    time.Date(2024, 1, 10, 8, 15, 42, 0, time.UTC),
	}
	f.repo = f.store
	if wrap != nil {
		f.repo = wrap(f.store)
	}
	f.engine = crawler.NewEngine(
		crawler.Config{
			Archive:        crawler.Archive{BaseURL: base + "/archive/", PageParam: "pageNumber"},
			Selectors:      engineSelectors,
			Location:       jalali.LoadLocation(jalali.DefaultTimezone),
			SnapshotPrefix: "pages",
		},
		f.site.factory,
		f.repo,
		f.blobs,
		f.events,
		sha256.New(),
		fixedClock{t: f.now},
		&seqIDs{},
		nil,
	)
	return f
}

func titles(recs []crawler.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Title)
	}
	return out
}

func TestCrawlRejectsInvertedRangeBeforeNavigation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{}, nil)
	_, err := f.engine.Crawl(context.Background(), 3, 1)

	require.ErrorIs(t, err, crawler.ErrInvalidRange)
	require.Zero(t, f.site.opened)
	require.Empty(t, f.site.navigations())

	_, err = f.engine.CrawlUnseen(context.Background(), 0)
	require.ErrorIs(t, err, crawler.ErrInvalidRange)
	require.Zero(t, f.site.opened)
}

func TestCrawlIngestsRangeAndSkipsBadPages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{
		listing(1): listingPage("/a/1", "/a/2", "/a/missing"),
		listing(2): listingPage("/a/3", "/a/4"),
		base + "/a/1": article("Chip shortage eases", "چهارشنبه ۵ مهر ۱۴۰۲ - ۱۴:۳۰", "Hardware", "Chips"),
		base + "/a/2": `<html><body><h1 class="title">No body here</h1></body></html>`,
		base + "/a/3": article("Phone launch", "bad date", "Phones", "Hardware"),
		base + "/a/4": article("Chip shortage eases", "", "Hardware"),
	}, nil)

	summary, err := f.engine.Crawl(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "range", summary.Policy)
	assert.Equal(t, 2, summary.PagesVisited)
	assert.Equal(t, 5, summary.LinksDiscovered)
	assert.Equal(t, 2, summary.RecordsCreated)
	assert.Equal(t, 1, summary.RecordsSkipped)
	assert.Equal(t, 1, summary.PagesUnusable)
	assert.Equal(t, 1, summary.FetchFailures)
	assert.Equal(t, 3, summary.LabelsCreated)
	assert.False(t, summary.StoppedAtKnown)

	recs := f.store.Records()
	require.Equal(t, []string{"Chip shortage eases", "Phone launch"}, titles(recs))
	assert.Equal(t, base+"/a/1", recs[0].SourceURL)
	assert.True(t, recs[0].PublishedAt.Equal(time.Date(2023, 9, 27, 11, 0, 0, 0, time.UTC)))
	assert.True(t, recs[1].PublishedAt.Equal(f.now.Truncate(time.Minute)), "undated record takes the run minute")
	assert.Len(t, f.store.Labels(), 3)
	assert.Equal(t, recs[0].Labels[0].ID, recs[1].Labels[1].ID, "Hardware is shared, not duplicated")

	assert.True(t, f.site.balanced())
	assert.Equal(t, 1, f.site.opened)
}

func TestCrawlWritesSnapshotsAndEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{
		listing(1):    listingPage("/a/1"),
		base + "/a/1": article("Snapshot me", "چهارشنبه ۵ مهر ۱۴۰۲ - ۱۴:۳۰", "AI"),
	}, nil)

	_, err := f.engine.Crawl(context.Background(), 1, 1)
	require.NoError(t, err)

	name := "pages/" + sha256.New().Hash([]byte(base+"/a/1")) + ".html"
	html, ok := f.blobs.Object(name)
	require.True(t, ok, "snapshot %s missing", name)
	require.Contains(t, string(html), "Snapshot me")

	msgs := f.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]string{"event": "record.created", "run_id": "run-1"}, msgs[0].Attributes)
	evt, ok := msgs[0].Payload.(crawler.RecordCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, "Snapshot me", evt.Title)
	assert.Equal(t, "1402/07/05", evt.PublishedJalali)
	assert.Equal(t, []string{"AI"}, evt.Labels)
}

func TestCrawlSurvivesPublishFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{
		listing(1):    listingPage("/a/1"),
		base + "/a/1": article("Still stored", ""),
	}, nil)
	f.events.FailWith(errors.New("topic unavailable"))

	summary, err := f.engine.Crawl(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, summary.RecordsCreated)
	require.Len(t, f.store.Records(), 1)
}

func TestCrawlIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{
		listing(1):    listingPage("/a/1", "/a/2"),
		base + "/a/1": article("One", "", "AI"),
		base + "/a/2": article("Two", "", "AI"),
	}, nil)

	first, err := f.engine.Crawl(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, 2, first.RecordsCreated)
	require.Equal(t, 1, first.LabelsCreated)

	second, err := f.engine.Crawl(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Zero(t, second.RecordsCreated)
	require.Equal(t, 2, second.RecordsSkipped)
	require.Zero(t, second.LabelsCreated)
	require.Len(t, f.store.Records(), 2)
	require.Len(t, f.events.Messages(), 2)
	require.True(t, f.site.balanced())
}

func TestCrawlUnseenStopsAtFirstStoredLink(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{
		listing(1):    listingPage("/a/1", "/a/2"),
		base + "/a/1": article("Old one", ""),
		base + "/a/2": article("Old two", ""),
	}, nil)
	_, err := f.engine.Crawl(context.Background(), 1, 1)
	require.NoError(t, err)

	// Three new articles are published; the listing shifts.
	f.site.set(listing(1), listingPage("/a/5", "/a/4", "/a/3", "/a/1"))
	f.site.set(listing(2), listingPage("/a/2"))
	for i := 3; i <= 5; i++ {
		f.site.set(fmt.Sprintf("%s/a/%d", base, i), article(fmt.Sprintf("New %d", i), ""))
	}

	before := len(f.site.navigations())
	summary, err := f.engine.CrawlUnseen(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, "unseen", summary.Policy)
	assert.True(t, summary.StoppedAtKnown)
	assert.Equal(t, 1, summary.PagesVisited)
	assert.Equal(t, 3, summary.LinksDiscovered)
	assert.Equal(t, 3, summary.RecordsCreated)
	assert.NotContains(t, f.site.navigations()[before:], listing(2))
	assert.Equal(t, []string{"Old one", "Old two", "New 5", "New 4", "New 3"}, titles(f.store.Records()))
	assert.True(t, f.site.balanced())
}

func TestCrawlUnseenOnEmptyStoreReadsMaxPages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{
		listing(1):    listingPage("/a/2"),
		listing(2):    listingPage("/a/1"),
		listing(3):    listingPage("/a/0"),
		base + "/a/2": article("Two", ""),
		base + "/a/1": article("One", ""),
	}, nil)

	summary, err := f.engine.CrawlUnseen(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, summary.PagesVisited)
	require.Equal(t, 2, summary.RecordsCreated)
	require.False(t, summary.StoppedAtKnown)
	require.NotContains(t, f.site.navigations(), listing(3))
}

// failingRepo fails CreateRecord with a non-conflict error.
type failingRepo struct {
	crawler.Repository
	err error
}

func (r failingRepo) CreateRecord(context.Context, crawler.NewRecord) (crawler.Record, error) {
	return crawler.Record{}, r.err
}

type failingSeen struct {
	crawler.Repository
}

func (failingSeen) ExistingSourceURLs(context.Context) (map[string]struct{}, error) {
	return nil, errors.New("relation records does not exist")
}

func TestCrawlStoreFailureAbortsAndReleasesRenderer(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	f := newFixture(t, map[string]string{
		listing(1):    listingPage("/a/1", "/a/2"),
		base + "/a/1": article("One", ""),
		base + "/a/2": article("Two", ""),
	}, func(r crawler.Repository) crawler.Repository { return failingRepo{Repository: r, err: boom} })

	summary, err := f.engine.Crawl(context.Background(), 1, 1)
	require.ErrorIs(t, err, boom)
	require.True(t, crawler.IsStoreError(err))
	require.Zero(t, summary.RecordsCreated)
	require.NotContains(t, f.site.navigations(), base+"/a/2", "run stops at the first store failure")
	require.True(t, f.site.balanced())
}

func TestCrawlUnseenSeenLookupFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{}, func(r crawler.Repository) crawler.Repository { return failingSeen{r} })
	_, err := f.engine.CrawlUnseen(context.Background(), 3)
	require.True(t, crawler.IsStoreError(err))
	require.Zero(t, f.site.opened)
}

func TestCrawlRendererFactoryFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("chrome not found")
	engine := crawler.NewEngine(
		crawler.Config{Archive: crawler.Archive{BaseURL: base + "/archive/"}, Selectors: engineSelectors},
		func(context.Context) (crawler.Renderer, error) { return nil, boom },
		memory.NewRepository(),
		nil, nil, nil, nil, nil, nil,
	)
	_, err := engine.Crawl(context.Background(), 1, 1)
	require.ErrorIs(t, err, boom)
}

func TestCrawlCanceledContextReleasesRenderer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{
		listing(1): listingPage("/a/1"),
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Crawl(ctx, 1, 3)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, f.site.balanced())
}
