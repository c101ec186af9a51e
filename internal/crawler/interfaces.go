package crawler

import (
	"context"
	"regexp"
	"time"
)

// Query is one ranked candidate location on a page. An empty Attr reads the
// element's trimmed text; Match, when set, must accept the value.
type Query struct {
	Selector string
	Attr     string
	Match    *regexp.Regexp
}

// Page is a rendered page handle exposing DOM-query capabilities.
type Page interface {
	URL() string
	Title() string
	Content() string
	// QueryFirst returns the first accepted value, checking only the first
	// element matched by each candidate, in candidate order.
	QueryFirst(candidates []Query) (string, bool)
	// QueryAll returns every accepted value across all candidates in order.
	QueryAll(candidates []Query) []string
}

// SessionOptions is passed through to the automation engine untouched by the core.
type SessionOptions struct {
	ProxyURL  string
	UserAgent string
}

// FetchRequest captures everything needed to fetch one URL in a session.
type FetchRequest struct {
	URL           string
	SettleTimeout time.Duration
}

// FetchResult is the rendered page plus whether the load-settled signal fired in time.
type FetchResult struct {
	Page    Page
	Settled bool
}

// Browser opens sessions against the external automation engine.
type Browser interface {
	OpenSession(ctx context.Context, opts SessionOptions) (Session, error)
	Close() error
}

// Session fetches pages as one browser identity.
type Session interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
	Close() error
}

// Row is one record to upsert, keyed by column name.
type Row map[string]any

// UpsertRequest describes an idempotent insert-or-refresh. Refresh lists the
// columns rewritten when ConflictKey already exists; empty means do nothing.
type UpsertRequest struct {
	Table       string
	Row         Row
	ConflictKey string
	Refresh     []string
}

// Upserter is the relational store capability consumed by the core.
type Upserter interface {
	Upsert(ctx context.Context, request UpsertRequest) error
}

// EnrichmentQueue hands sellers to the external enrichment process.
type EnrichmentQueue interface {
	QueueSellerForEnrichment(ctx context.Context, sellerID string) error
}

// Journal durably records enqueued work items so the queue can dedup fetch
// targets and resume pending work after a restart.
type Journal interface {
	// MarkIfNew stores the item as pending and reports true if its key was unseen.
	MarkIfNew(ctx context.Context, item WorkItem) (bool, error)
	// Update rewrites a pending item (used for retries).
	Update(ctx context.Context, item WorkItem) error
	// Settle marks the item finished; its key stays seen.
	Settle(ctx context.Context, item WorkItem) error
	// Pending lists items that were enqueued but never settled.
	Pending(ctx context.Context) ([]WorkItem, error)
}

// RateLimiter paces requests per target domain.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for journal keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
