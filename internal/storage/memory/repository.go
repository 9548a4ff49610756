package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
)

// Repository is an in-memory crawler.Repository. Uniqueness of label text,
// record title and record source URL is enforced under one lock, the same
// way the Postgres constraints serialize concurrent writers.
type Repository struct {
	mu          sync.RWMutex
	labels      map[string]crawler.Label
	records     []crawler.Record
	byTitle     map[string]int
	bySource    map[string]int
	nextLabelID int64
	nextRecID   int64
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		labels:   make(map[string]crawler.Label),
		byTitle:  make(map[string]int),
		bySource: make(map[string]int),
	}
}

// ExistingSourceURLs implements crawler.Repository.
func (r *Repository) ExistingSourceURLs(_ context.Context) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.bySource))
	for u := range r.bySource {
		out[u] = struct{}{}
	}
	return out, nil
}

// FindLabelsByText implements crawler.Repository.
func (r *Repository) FindLabelsByText(_ context.Context, texts []string) ([]crawler.Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []crawler.Label
	for _, t := range texts {
		if l, ok := r.labels[t]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// BulkCreateLabels implements crawler.Repository. Texts that already exist
// are returned as stored.
func (r *Repository) BulkCreateLabels(_ context.Context, texts []string) ([]crawler.Label, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]crawler.Label, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("label text is required")
		}
		l, ok := r.labels[t]
		if !ok {
			r.nextLabelID++
			l = crawler.Label{ID: r.nextLabelID, Text: t}
			r.labels[t] = l
		}
		out = append(out, l)
	}
	return out, nil
}

// ExistsRecordWithTitle implements crawler.Repository.
func (r *Repository) ExistsRecordWithTitle(_ context.Context, title string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTitle[title]
	return ok, nil
}

// CreateRecord implements crawler.Repository.
func (r *Repository) CreateRecord(_ context.Context, rec crawler.NewRecord) (crawler.Record, error) {
	if rec.Title == "" || rec.Body == "" || rec.SourceURL == "" {
		return crawler.Record{}, fmt.Errorf("title, body and source url are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTitle[rec.Title]; ok {
		return crawler.Record{}, fmt.Errorf("title %q: %w", rec.Title, crawler.ErrConflict)
	}
	if _, ok := r.bySource[rec.SourceURL]; ok {
		return crawler.Record{}, fmt.Errorf("source url %q: %w", rec.SourceURL, crawler.ErrConflict)
	}
	for _, l := range rec.Labels {
		if stored, ok := r.labels[l.Text]; !ok || stored.ID != l.ID {
			return crawler.Record{}, fmt.Errorf("label %q is not stored", l.Text)
		}
	}
	r.nextRecID++
	stored := crawler.Record{
		ID:          r.nextRecID,
		Title:       rec.Title,
		Body:        rec.Body,
		SourceURL:   rec.SourceURL,
		PublishedAt: rec.PublishedAt,
		Labels:      append([]crawler.Label(nil), rec.Labels...),
	}
	r.records = append(r.records, stored)
	r.byTitle[stored.Title] = len(r.records) - 1
	r.bySource[stored.SourceURL] = len(r.records) - 1
	return cloneRecord(stored), nil
}

// Records returns a copy of every stored record in insertion order.
func (r *Repository) Records() []crawler.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, cloneRecord(rec))
	}
	return out
}

// Labels returns a copy of every stored label.
func (r *Repository) Labels() []crawler.Label {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.Label, 0, len(r.labels))
	for _, l := range r.labels {
		out = append(out, l)
	}
	return out
}

func cloneRecord(rec crawler.Record) crawler.Record {
	rec.Labels = append([]crawler.Label(nil), rec.Labels...)
	return rec
}
