package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCreatesOnlyMissingLabels(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	rec := NewLabelReconciler(repo)
	ctx := context.Background()

	first, created, err := rec.Resolve(ctx, []string{"AI", "Phones", " AI "})
	require.NoError(t, err)
	require.Equal(t, 2, created)
	require.Len(t, first, 2)
	assert.Equal(t, "AI", first[0].Text)
	assert.Equal(t, "Phones", first[1].Text)

	second, created, err := rec.Resolve(ctx, []string{"Chips", "AI"})
	require.NoError(t, err)
	require.Equal(t, 1, created)
	assert.Equal(t, []string{"Chips", "AI"}, labelTexts(second))
	assert.Equal(t, first[0].ID, second[1].ID)

	_, created, err = rec.Resolve(ctx, []string{"Phones", "Chips"})
	require.NoError(t, err)
	require.Zero(t, created)
	require.Equal(t, 3, repo.labelCount())
}

func TestResolveEmptyInputTouchesNothing(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.findErr = errors.New("must not be called")

	labels, created, err := NewLabelReconciler(repo).Resolve(context.Background(), []string{"", "   "})
	require.NoError(t, err)
	require.Empty(t, labels)
	require.Zero(t, created)
}

func TestResolveWrapsStoreFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")

	repo := newFakeRepo()
	repo.findErr = boom
	_, _, err := NewLabelReconciler(repo).Resolve(context.Background(), []string{"AI"})
	require.ErrorIs(t, err, boom)
	require.True(t, IsStoreError(err))

	repo = newFakeRepo()
	repo.createErr = boom
	_, _, err = NewLabelReconciler(repo).Resolve(context.Background(), []string{"AI"})
	require.ErrorIs(t, err, boom)
	require.True(t, IsStoreError(err))
}

func TestResolveConcurrentOverlappingBatches(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	rec := NewLabelReconciler(repo)
	batches := [][]string{
		{"AI", "Phones"},
		{"Phones", "Chips"},
		{"Chips", "AI", "Cloud"},
		{"Cloud"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		batch := batches[i%len(batches)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			labels, _, err := rec.Resolve(context.Background(), batch)
			assert.NoError(t, err)
			assert.Equal(t, batch, labelTexts(labels))
		}()
	}
	wg.Wait()

	require.Equal(t, 4, repo.labelCount())
}

func labelTexts(labels []Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Text)
	}
	return out
}
