package crawler

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/technews-ingest/internal/page"
)

// Repository is the persistence surface the pipeline needs.
type Repository interface {
	// ExistingSourceURLs returns every stored record source URL.
	ExistingSourceURLs(ctx context.Context) (map[string]struct{}, error)
	// FindLabelsByText returns the stored labels whose text is in texts.
	FindLabelsByText(ctx context.Context, texts []string) ([]Label, error)
	// BulkCreateLabels creates labels for texts and returns one Label per
	// text. Texts that already exist are returned, not duplicated.
	BulkCreateLabels(ctx context.Context, texts []string) ([]Label, error)
	// ExistsRecordWithTitle reports whether a record with title is stored.
	ExistsRecordWithTitle(ctx context.Context, title string) (bool, error)
	// CreateRecord inserts the record and its label links in one unit. It
	// returns ErrConflict when title or source URL is already taken.
	CreateRecord(ctx context.Context, rec NewRecord) (Record, error)
}

// Renderer loads a URL and returns the rendered page. Implementations own a
// browser or HTTP client and are used by one crawl run at a time.
type Renderer interface {
	Render(ctx context.Context, url string) (*page.Content, error)
	Close() error
}

// RendererFactory opens a fresh Renderer for one crawl run.
type RendererFactory func(ctx context.Context) (Renderer, error)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes record notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// Hasher computes digests used for snapshot object names.
type Hasher interface {
	Hash(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
