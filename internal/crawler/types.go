package crawler

import (
	"fmt"
	"time"
)

// Label is a persisted free-text category. Text is unique in the store.
type Label struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Record is a persisted article. Title and SourceURL are each unique.
type Record struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SourceURL   string    `json:"source_url"`
	PublishedAt time.Time `json:"published_at"`
	Labels      []Label   `json:"labels"`
}

// NewRecord is the insert payload handed to Repository.CreateRecord.
type NewRecord struct {
	Title       string
	Body        string
	SourceURL   string
	PublishedAt time.Time
	Labels      []Label
}

// Candidate is an extracted, not yet persisted record.
type Candidate struct {
	SourceURL string
	Title     string
	Body      string
	// BodyBlocks counts matched body elements; zero means no body was found,
	// as opposed to blocks that were all empty.
	BodyBlocks int
	// PublishedAt is nil when the page carried no parseable date.
	PublishedAt *time.Time
	// Labels holds distinct, trimmed label text in page order.
	Labels []string
}

// UnusableReason explains why a Candidate must not be committed.
type UnusableReason string

// Reasons a page is skipped. ReasonNone marks a usable candidate.
const (
	ReasonNone         UnusableReason = ""
	ReasonMissingTitle UnusableReason = "missing_title"
	ReasonMissingBody  UnusableReason = "missing_body"
	ReasonEmptyBody    UnusableReason = "empty_body"
)

// CommitOutcome reports what the Committer did with a candidate.
type CommitOutcome string

// Commit outcomes.
const (
	CommitCreated   CommitOutcome = "created"
	CommitDuplicate CommitOutcome = "duplicate"
)

// Policy selects which listing pages and links a walk visits.
type Policy interface {
	// Name is a short label used in logs and metrics.
	Name() string
	// Validate rejects invalid bounds before any navigation happens.
	Validate() error

	pageRange() (first, last int)
	isKnown(link string) bool
}

// BoundedRange visits listing pages From..To inclusive and emits every link.
type BoundedRange struct {
	From int
	To   int
}

// Name implements Policy.
func (BoundedRange) Name() string { return "range" }

// Validate implements Policy.
func (p BoundedRange) Validate() error {
	if p.From <= 0 || p.To <= 0 {
		return fmt.Errorf("%w: pages must be positive, got %d..%d", ErrInvalidRange, p.From, p.To)
	}
	if p.From > p.To {
		return fmt.Errorf("%w: from page %d is after to page %d", ErrInvalidRange, p.From, p.To)
	}
	return nil
}

func (p BoundedRange) pageRange() (int, int) { return p.From, p.To }

func (BoundedRange) isKnown(string) bool { return false }

// UnseenOnly visits pages from 1 up to MaxPages and stops the entire walk at
// the first link whose URL is in Seen. This assumes the archive lists newest
// items first and never backfills older pages; unseen items after a known one
// are not visited.
type UnseenOnly struct {
	MaxPages int
	Seen     map[string]struct{}
}

// Name implements Policy.
func (UnseenOnly) Name() string { return "unseen" }

// Validate implements Policy.
func (p UnseenOnly) Validate() error {
	if p.MaxPages <= 0 {
		return fmt.Errorf("%w: max pages must be positive, got %d", ErrInvalidRange, p.MaxPages)
	}
	return nil
}

func (p UnseenOnly) pageRange() (int, int) { return 1, p.MaxPages }

func (p UnseenOnly) isKnown(link string) bool {
	_, ok := p.Seen[link]
	return ok
}

// Summary is returned by every crawl run.
type Summary struct {
	RunID           string        `json:"run_id"`
	Policy          string        `json:"policy"`
	PagesVisited    int           `json:"pages_visited"`
	LinksDiscovered int           `json:"links_discovered"`
	RecordsCreated  int           `json:"records_created"`
	RecordsSkipped  int           `json:"records_skipped"`
	PagesUnusable   int           `json:"pages_unusable"`
	FetchFailures   int           `json:"fetch_failures"`
	LabelsCreated   int           `json:"labels_created"`
	StoppedAtKnown  bool          `json:"stopped_at_known"`
	Duration        time.Duration `json:"duration"`
}
