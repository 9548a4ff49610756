package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitCreatesThenSkipsSameTitle(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	c := NewCommitter(repo, fixedClock{t: time.Now()}, tehran())
	published := time.Date(2023, 9, 27, 11, 0, 0, 0, time.UTC)
	labels := []Label{{ID: 1, Text: "AI"}}

	rec, outcome, err := c.Commit(context.Background(), Candidate{
		SourceURL:   "https://news.test/n/1",
		Title:       "Same headline",
		Body:        "b",
		PublishedAt: &published,
	}, labels)
	require.NoError(t, err)
	require.Equal(t, CommitCreated, outcome)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, labels, rec.Labels)
	assert.True(t, rec.PublishedAt.Equal(published))

	_, outcome, err = c.Commit(context.Background(), Candidate{
		SourceURL: "https://news.test/n/2",
		Title:     "Same headline",
		Body:      "different body",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, CommitDuplicate, outcome)
	require.Len(t, repo.records, 1)
}

func TestCommitConflictIsDuplicate(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.raceTitle = "raced"
	_, outcome, err := NewCommitter(repo, fixedClock{t: time.Now()}, tehran()).
		Commit(context.Background(), Candidate{Title: "raced", Body: "b"}, nil)

	require.NoError(t, err)
	require.Equal(t, CommitDuplicate, outcome)
}

func TestCommitDefaultsPublishedAtToCurrentMinute(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 9, 41, 37, 500, time.UTC)
	repo := newFakeRepo()
	rec, outcome, err := NewCommitter(repo, fixedClock{t: now}, tehran()).
		Commit(context.Background(), Candidate{Title: "undated", Body: "b"}, nil)

	require.NoError(t, err)
	require.Equal(t, CommitCreated, outcome)
	assert.True(t, rec.PublishedAt.Equal(time.Date(2024, 5, 1, 9, 41, 0, 0, time.UTC)))
	assert.Equal(t, tehran().String(), rec.PublishedAt.Location().String())
}

func TestCommitStoreFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")

	repo := newFakeRepo()
	repo.existsErr = boom
	_, _, err := NewCommitter(repo, fixedClock{}, tehran()).Commit(context.Background(), Candidate{Title: "t"}, nil)
	require.ErrorIs(t, err, boom)
	require.True(t, IsStoreError(err))

	repo = newFakeRepo()
	repo.recordErr = boom
	_, _, err = NewCommitter(repo, fixedClock{}, tehran()).Commit(context.Background(), Candidate{Title: "t"}, nil)
	require.ErrorIs(t, err, boom)
	require.True(t, IsStoreError(err))
}
