package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/technews-ingest/internal/page"
)

var testArchive = Archive{BaseURL: "https://news.test/archive/", PageParam: "pageNumber"}

var testSelectors = Selectors{
	ListingLink: "a.news",
	Title:       "h1.title",
	Body:        "p.body, h2.sub, blockquote",
	Labels:      "span.tag",
	PublishedAt: "span.date",
}

func listingURL(n int) string {
	u, err := testArchive.ListingURL(n)
	if err != nil {
		panic(err)
	}
	return u
}

func listingHTML(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, l := range links {
		fmt.Fprintf(&b, `<li><a class="news" href="%s">item</a></li>`, l)
	}
	b.WriteString(`<a class="footer" href="/about">about</a></ul></body></html>`)
	return b.String()
}

// fakeRenderer serves fixed HTML per URL and records every Render call.
type fakeRenderer struct {
	mu      sync.Mutex
	pages   map[string]string
	visits  []string
	closed  bool
	closeAt string
}

func newFakeRenderer(pages map[string]string) *fakeRenderer {
	return &fakeRenderer{pages: pages}
}

func (r *fakeRenderer) Render(_ context.Context, url string) (*page.Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRendererClosed
	}
	r.visits = append(r.visits, url)
	if url == r.closeAt {
		r.closed = true
		return nil, ErrRendererClosed
	}
	html, ok := r.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNavigation, url)
	}
	return page.Parse(url, []byte(html))
}

func (r *fakeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRenderer) visited() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.visits...)
}

func mustContent(url, html string) *page.Content {
	c, err := page.Parse(url, []byte(html))
	if err != nil {
		panic(err)
	}
	return c
}

// fakeRepo is a minimal in-package Repository. Hooks override behavior.
type fakeRepo struct {
	mu      sync.Mutex
	labels  map[string]Label
	titles  map[string]struct{}
	records []NewRecord
	nextID  int64

	findErr   error
	createErr error
	existsErr error
	recordErr error
	// raceTitle makes CreateRecord report a conflict for that title, as if
	// another writer inserted it after the existence check.
	raceTitle string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{labels: map[string]Label{}, titles: map[string]struct{}{}}
}

func (r *fakeRepo) ExistingSourceURLs(context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{}, len(r.records))
	for _, rec := range r.records {
		out[rec.SourceURL] = struct{}{}
	}
	return out, nil
}

func (r *fakeRepo) FindLabelsByText(_ context.Context, texts []string) ([]Label, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []Label
	for _, t := range texts {
		if l, ok := r.labels[t]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeRepo) BulkCreateLabels(_ context.Context, texts []string) ([]Label, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	out := make([]Label, 0, len(texts))
	for _, t := range texts {
		l, ok := r.labels[t]
		if !ok {
			r.nextID++
			l = Label{ID: r.nextID, Text: t}
			r.labels[t] = l
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *fakeRepo) ExistsRecordWithTitle(_ context.Context, title string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existsErr != nil {
		return false, r.existsErr
	}
	_, ok := r.titles[title]
	return ok, nil
}

func (r *fakeRepo) CreateRecord(_ context.Context, rec NewRecord) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return Record{}, r.recordErr
	}
	if _, ok := r.titles[rec.Title]; ok || rec.Title == r.raceTitle {
		return Record{}, ErrConflict
	}
	r.titles[rec.Title] = struct{}{}
	r.records = append(r.records, rec)
	r.nextID++
	return Record{
		ID:          r.nextID,
		Title:       rec.Title,
		Body:        rec.Body,
		SourceURL:   rec.SourceURL,
		PublishedAt: rec.PublishedAt,
		Labels:      rec.Labels,
	}, nil
}

func (r *fakeRepo) labelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.labels)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
