package crawler

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWalkUnseenStopsAtFirstKnownLink(t *testing.T) {
	t.Parallel()

	renderer := newFakeRenderer(map[string]string{
		listingURL(1): listingHTML("/n/3", "/n/2", "/n/1", "/n/0", "/n/new-after-known"),
		listingURL(2): listingHTML("/n/-1"),
	})
	walker := NewWalker(renderer, testArchive, testSelectors.ListingLink, zap.NewNop())
	policy := UnseenOnly{MaxPages: 5, Seen: map[string]struct{}{"https://news.test/n/0": {}}}

	walk := walker.Walk(context.Background(), policy)
	links := slices.Collect(walk.Links())

	require.NoError(t, walk.Err())
	require.Equal(t, []string{
		"https://news.test/n/3",
		"https://news.test/n/2",
		"https://news.test/n/1",
	}, links)
	require.True(t, walk.StoppedAtKnown)
	require.Equal(t, 1, walk.PagesVisited)
	require.Equal(t, 3, walk.LinksDiscovered)
	require.Equal(t, []string{listingURL(1)}, renderer.visited())
}

func TestWalkUnseenWithoutKnownLinkReadsMaxPages(t *testing.T) {
	t.Parallel()

	renderer := newFakeRenderer(map[string]string{
		listingURL(1): listingHTML("/n/4", "/n/3"),
		listingURL(2): listingHTML("/n/2", "/n/1"),
		listingURL(3): listingHTML("/n/0"),
	})
	walker := NewWalker(renderer, testArchive, testSelectors.ListingLink, nil)

	walk := walker.Walk(context.Background(), UnseenOnly{MaxPages: 2})
	links := slices.Collect(walk.Links())

	require.Len(t, links, 4)
	require.False(t, walk.StoppedAtKnown)
	require.Equal(t, 2, walk.PagesVisited)
	require.Equal(t, []string{listingURL(1), listingURL(2)}, renderer.visited())
}

func TestWalkBoundedRangeEmitsEveryLink(t *testing.T) {
	t.Parallel()

	renderer := newFakeRenderer(map[string]string{
		listingURL(1): listingHTML("/n/9"),
		listingURL(2): listingHTML("/n/5", "/n/4", "/n/5"),
		listingURL(3): listingHTML("/n/1"),
	})
	walker := NewWalker(renderer, testArchive, testSelectors.ListingLink, nil)

	walk := walker.Walk(context.Background(), BoundedRange{From: 2, To: 2})
	links := slices.Collect(walk.Links())

	require.Equal(t, []string{
		"https://news.test/n/5",
		"https://news.test/n/4",
		"https://news.test/n/5",
	}, links)
	require.Equal(t, []string{listingURL(2)}, renderer.visited())
	require.False(t, walk.StoppedAtKnown)
}

func TestWalkUnreachableListingYieldsNoLinks(t *testing.T) {
	t.Parallel()

	renderer := newFakeRenderer(map[string]string{
		listingURL(1): listingHTML("/n/1"),
		listingURL(3): `<html><body>nothing here</body></html>`,
		listingURL(4): listingHTML("/n/4"),
	})
	walker := NewWalker(renderer, testArchive, testSelectors.ListingLink, nil)

	walk := walker.Walk(context.Background(), BoundedRange{From: 1, To: 4})
	links := slices.Collect(walk.Links())

	require.NoError(t, walk.Err())
	require.Equal(t, []string{"https://news.test/n/1", "https://news.test/n/4"}, links)
	require.Equal(t, 4, walk.PagesVisited)
}

func TestWalkInvalidPolicyNavigatesNothing(t *testing.T) {
	t.Parallel()

	renderer := newFakeRenderer(nil)
	walker := NewWalker(renderer, testArchive, testSelectors.ListingLink, nil)

	walk := walker.Walk(context.Background(), BoundedRange{From: 3, To: 1})
	require.Empty(t, slices.Collect(walk.Links()))
	require.ErrorIs(t, walk.Err(), ErrInvalidRange)
	require.Empty(t, renderer.visited())
}

func TestWalkStopsWhenRendererCloses(t *testing.T) {
	t.Parallel()

	renderer := newFakeRenderer(map[string]string{
		listingURL(1): listingHTML("/n/1"),
	})
	renderer.closeAt = listingURL(2)
	walker := NewWalker(renderer, testArchive, testSelectors.ListingLink, nil)

	walk := walker.Walk(context.Background(), BoundedRange{From: 1, To: 3})
	links := slices.Collect(walk.Links())

	require.Equal(t, []string{"https://news.test/n/1"}, links)
	require.ErrorIs(t, walk.Err(), ErrRendererClosed)
	require.Equal(t, []string{listingURL(1), listingURL(2)}, renderer.visited())
}

func TestWalkHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	renderer := newFakeRenderer(map[string]string{listingURL(1): listingHTML("/n/1")})
	walk := NewWalker(renderer, testArchive, testSelectors.ListingLink, nil).Walk(ctx, UnseenOnly{MaxPages: 1})

	require.Empty(t, slices.Collect(walk.Links()))
	require.ErrorIs(t, walk.Err(), context.Canceled)
	require.Empty(t, renderer.visited())
}

func TestWalkConsumerCanStopEarly(t *testing.T) {
	t.Parallel()

	renderer := newFakeRenderer(map[string]string{
		listingURL(1): listingHTML("/n/2", "/n/1"),
		listingURL(2): listingHTML("/n/0"),
	})
	walk := NewWalker(renderer, testArchive, testSelectors.ListingLink, nil).Walk(context.Background(), BoundedRange{From: 1, To: 2})

	for range walk.Links() {
		break
	}
	require.Equal(t, 1, walk.LinksDiscovered)
	require.Equal(t, []string{listingURL(1)}, renderer.visited())
}

func TestArchiveListingURL(t *testing.T) {
	t.Parallel()

	u, err := Archive{BaseURL: "https://www.zoomit.ir/archive/?sort=new"}.ListingURL(7)
	require.NoError(t, err)
	require.Equal(t, "https://www.zoomit.ir/archive/?pageNumber=7&sort=new", u)

	_, err = Archive{BaseURL: "/relative"}.ListingURL(1)
	require.Error(t, err)
}
