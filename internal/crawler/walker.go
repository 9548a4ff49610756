package crawler

import (
	"context"
	"errors"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/technews-ingest/internal/metrics"
)

// Walker pages through the archive listing and yields detail-page links.
type Walker struct {
	renderer Renderer
	archive  Archive
	selector string
	logger   *zap.Logger
}

// NewWalker builds a Walker over renderer. selector matches detail links on
// a listing page.
func NewWalker(renderer Renderer, archive Archive, selector string, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{renderer: renderer, archive: archive, selector: selector, logger: logger}
}

// Walk is one traversal of the listing under a Policy. Counters are valid
// once Links has been fully consumed or abandoned.
type Walk struct {
	w      *Walker
	ctx    context.Context
	policy Policy

	PagesVisited    int
	LinksDiscovered int
	StoppedAtKnown  bool
	err             error
}

// Walk starts a traversal. Nothing is fetched until Links is ranged over.
func (w *Walker) Walk(ctx context.Context, policy Policy) *Walk {
	return &Walk{w: w, ctx: ctx, policy: policy}
}

// Err returns the error that ended the walk early: context cancellation or
// a closed renderer. Unreachable listing pages are not errors.
func (wk *Walk) Err() error {
	return wk.err
}

// Links yields detail URLs in listing order: page by page, and within a
// page in the order the listing presents them.
func (wk *Walk) Links() iter.Seq[string] {
	return func(yield func(string) bool) {
		if err := wk.policy.Validate(); err != nil {
			wk.err = err
			return
		}
		first, last := wk.policy.pageRange()
		for n := first; n <= last; n++ {
			if err := wk.ctx.Err(); err != nil {
				wk.err = err
				return
			}
			links, err := wk.listing(n)
			if err != nil {
				wk.err = err
				return
			}
			for _, link := range links {
				if wk.policy.isKnown(link) {
					wk.StoppedAtKnown = true
					wk.w.logger.Info("reached known link; stopping walk",
						zap.Int("page", n),
						zap.String("url", link),
					)
					return
				}
				wk.LinksDiscovered++
				metrics.ObserveLinkDiscovered(wk.policy.Name())
				if !yield(link) {
					return
				}
			}
		}
	}
}

// listing fetches page n and returns its detail links. Fetch failures are
// logged and produce no links; only a closed renderer or a finished context
// is returned as an error.
func (wk *Walk) listing(n int) ([]string, error) {
	listingURL, err := wk.w.archive.ListingURL(n)
	if err != nil {
		return nil, err
	}
	wk.PagesVisited++
	metrics.ObserveListingPage(wk.policy.Name())

	content, err := wk.w.renderer.Render(wk.ctx, listingURL)
	if err != nil {
		if errors.Is(err, ErrRendererClosed) || wk.ctx.Err() != nil {
			return nil, err
		}
		wk.w.logger.Warn("listing page unavailable",
			zap.Int("page", n),
			zap.String("url", listingURL),
			zap.Error(err),
		)
		return nil, nil
	}

	nodes := content.FindAll(wk.w.selector)
	links := make([]string, 0, len(nodes))
	for _, node := range nodes {
		href, ok := node.Attr("href")
		if !ok {
			continue
		}
		if abs, ok := content.Resolve(href); ok {
			links = append(links, abs)
		}
	}
	wk.w.logger.Debug("listing page scanned",
		zap.Int("page", n),
		zap.Int("links", len(links)),
	)
	return links, nil
}
