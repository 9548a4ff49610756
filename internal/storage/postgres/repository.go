// Package postgres provides the Postgres-backed crawler.Repository.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
)

//go:embed schema.sql
var schema string

// SQLSTATE codes the repository reacts to.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the repository uses.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Repository implements crawler.Repository on Postgres. Uniqueness of label
// text, record title and record source URL is enforced by the schema.
type Repository struct {
	pool pool
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate applies the schema. It is safe to run repeatedly.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ExistingSourceURLs implements crawler.Repository.
func (r *Repository) ExistingSourceURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT source_url FROM records`)
	if err != nil {
		return nil, fmt.Errorf("query source urls: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan source urls: %w", err)
	}
	out := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		out[u] = struct{}{}
	}
	return out, nil
}

// FindLabelsByText implements crawler.Repository.
func (r *Repository) FindLabelsByText(ctx context.Context, texts []string) ([]crawler.Label, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, text FROM labels WHERE text = ANY($1::text[])`, texts)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	return scanLabels(rows)
}

// BulkCreateLabels implements crawler.Repository. Rows that a concurrent
// writer inserted first are read back instead of failing the batch.
func (r *Repository) BulkCreateLabels(ctx context.Context, texts []string) ([]crawler.Label, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
INSERT INTO labels (text)
SELECT DISTINCT unnest($1::text[])
ON CONFLICT (text) DO NOTHING
RETURNING id, text`, texts)
	if err != nil {
		return nil, fmt.Errorf("insert labels: %w", err)
	}
	inserted, err := scanLabels(rows)
	if err != nil {
		return nil, err
	}

	byText := make(map[string]crawler.Label, len(texts))
	for _, l := range inserted {
		byText[l.Text] = l
	}
	var missing []string
	for _, t := range texts {
		if _, ok := byText[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		existing, err := r.FindLabelsByText(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, l := range existing {
			byText[l.Text] = l
		}
	}

	out := make([]crawler.Label, 0, len(texts))
	for _, t := range texts {
		l, ok := byText[t]
		if !ok {
			return nil, fmt.Errorf("label %q neither inserted nor found", t)
		}
		out = append(out, l)
	}
	return out, nil
}

// ExistsRecordWithTitle implements crawler.Repository.
func (r *Repository) ExistsRecordWithTitle(ctx context.Context, title string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE title = $1)`, title).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record title: %w", err)
	}
	return exists, nil
}

// CreateRecord implements crawler.Repository. The record and its label links
// are written in one transaction.
func (r *Repository) CreateRecord(ctx context.Context, rec crawler.NewRecord) (out crawler.Record, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("begin record tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO records (title, body, source_url, published_at)
VALUES ($1, $2, $3, $4)
RETURNING id`, rec.Title, rec.Body, rec.SourceURL, rec.PublishedAt).Scan(&id)
	if err != nil {
		return crawler.Record{}, mapError("insert record", err)
	}

	if len(rec.Labels) > 0 {
		ids := make([]int64, 0, len(rec.Labels))
		for _, l := range rec.Labels {
			ids = append(ids, l.ID)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO record_labels (record_id, label_id, position)
SELECT $1, l.id, l.ord FROM unnest($2::bigint[]) WITH ORDINALITY AS l(id, ord)`, id, ids)
		if err != nil {
			return crawler.Record{}, mapError("link record labels", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return crawler.Record{}, mapError("commit record", err)
	}
	return crawler.Record{
		ID:          id,
		Title:       rec.Title,
		Body:        rec.Body,
		SourceURL:   rec.SourceURL,
		PublishedAt: rec.PublishedAt,
		Labels:      append([]crawler.Label(nil), rec.Labels...),
	}, nil
}

func scanLabels(rows pgx.Rows) ([]crawler.Label, error) {
	defer rows.Close()
	var out []crawler.Label
	for rows.Next() {
		var l crawler.Label
		if err := rows.Scan(&l.ID, &l.Text); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return out, nil
}

func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, crawler.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%s: label is not stored: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
