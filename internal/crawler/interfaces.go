package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

// Fetcher retrieves the detail page for one identifier.
type Fetcher interface {
	Fetch(ctx context.Context, id ProductID) (RawPage, error)
}

// PageGetter performs a plain GET with the fixed header set.
type PageGetter interface {
	Get(ctx context.Context, url string) (RawPage, error)
}

// IdentifierSource lists candidate product identifiers.
type IdentifierSource interface {
	ListIdentifiers(ctx context.Context) ([]ProductID, error)
}

// Extractor turns a fetched page into a product draft.
type Extractor interface {
	Extract(page RawPage) Extraction
}

// Normalizer repairs and completes a draft into a durable record.
type Normalizer interface {
	Normalize(draft product.Draft) (product.Record, error)
}

// Pacer enforces a minimum delay between requests made under the same key.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// RecordStore is the persisted collection of normalized records. It is owned
// by a single goroutine; implementations need not be safe for concurrent use
// except where noted.
type RecordStore interface {
	Load(ctx context.Context) ([]product.Record, error)
	// Reset empties the working set without touching the file.
	Reset()
	Put(rec product.Record)
	Checkpoint(ctx context.Context) error
	Records() []product.Record
	Len() int
}

// Mirror receives records after they have been checkpointed.
type Mirror interface {
	Upsert(ctx context.Context, records []product.Record) error
}

// Queue provides enqueue/dequeue semantics for identifiers awaiting work.
type Queue interface {
	Enqueue(ctx context.Context, id ProductID) error
	Dequeue(ctx context.Context) (ProductID, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
