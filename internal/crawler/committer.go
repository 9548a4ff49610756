package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/technews-ingest/internal/jalali"
)

// Committer inserts candidates at most once, keyed on title.
type Committer struct {
	repo  Repository
	clock Clock
	loc   *time.Location
}

// NewCommitter builds a Committer. Missing publish dates default to the
// clock's current minute in loc.
func NewCommitter(repo Repository, clock Clock, loc *time.Location) *Committer {
	if loc == nil {
		loc = jalali.LoadLocation(jalali.DefaultTimezone)
	}
	return &Committer{repo: repo, clock: clock, loc: loc}
}

// Commit persists cand with labels unless a record with the same title
// exists. A duplicate, including one that loses a concurrent insert race, is
// reported as CommitDuplicate with a nil error.
func (c *Committer) Commit(ctx context.Context, cand Candidate, labels []Label) (Record, CommitOutcome, error) {
	exists, err := c.repo.ExistsRecordWithTitle(ctx, cand.Title)
	if err != nil {
		return Record{}, "", storeErr("check title", err)
	}
	if exists {
		return Record{}, CommitDuplicate, nil
	}

	rec, err := c.repo.CreateRecord(ctx, NewRecord{
		Title:       cand.Title,
		Body:        cand.Body,
		SourceURL:   cand.SourceURL,
		PublishedAt: c.publishedAt(cand),
		Labels:      labels,
	})
	switch {
	case errors.Is(err, ErrConflict):
		return Record{}, CommitDuplicate, nil
	case err != nil:
		return Record{}, "", storeErr("create record", err)
	}
	return rec, CommitCreated, nil
}

func (c *Committer) publishedAt(cand Candidate) time.Time {
	if cand.PublishedAt != nil {
		return cand.PublishedAt.In(c.loc)
	}
	return c.clock.Now().In(c.loc).Truncate(time.Minute)
}
