package harvest

import (
	"context"
	"time"

	"github.com/lgeiger/newsharvest/internal/intervals"
)

// Ledger is the persistent record of every discovered article and its
// lifecycle state. Implementations must make ClaimNext atomic under
// concurrent callers and Advance idempotent per sub-task.
type Ledger interface {
	// InsertIfAbsent stores a record unless one with the same key exists.
	InsertIfAbsent(ctx context.Context, rec ArticleRecord) error
	// ClaimNext atomically transitions one StatusNew record for the language
	// to StatusClaimed and returns it. Returns ErrNoneAvailable when no such
	// record exists.
	ClaimNext(ctx context.Context, language string) (ArticleRecord, error)
	// Advance marks a sub-task finished on a claimed record and returns the
	// resulting status. Advancing the same sub-task twice is a no-op.
	Advance(ctx context.Context, key ArticleKey, task SubTask) (CrawlStatus, error)
	// ResetInProgress returns every claimed-but-incomplete record to
	// StatusNew. Run once at startup, before any claims.
	ResetInProgress(ctx context.Context) (int, error)
	// ResetOne returns a single record to StatusNew for explicit retry.
	ResetOne(ctx context.Context, key ArticleKey) error
	// Quarantine removes the record from the active ledger and appends it,
	// payload intact, to the error list. Quarantined records are never
	// retried automatically.
	Quarantine(ctx context.Context, key ArticleKey, reason string) error
	// CompactComplete physically deletes every StatusComplete record.
	CompactComplete(ctx context.Context) (int, error)
	// PendingCount reports the number of StatusNew records across languages.
	PendingCount(ctx context.Context) (int, error)
	// Quarantined lists the error records for inspection.
	Quarantined(ctx context.Context) ([]QuarantinedRecord, error)
}

// WebsiteStore persists per-source frontier progress (the scanned interval
// sets) across restarts.
type WebsiteStore interface {
	SaveIntervals(ctx context.Context, src Source, ivs []intervals.Interval) error
	LoadIntervals(ctx context.Context, src Source) ([]intervals.Interval, error)
}

// ListingClient pages a source's listing API backward in time.
type ListingClient interface {
	// FetchOlder returns items published before the given instant, newest
	// first, up to the source's page size. A non-2xx response surfaces as a
	// TransientError.
	FetchOlder(ctx context.Context, src Source, before time.Time) ([]ListingItem, error)
}

// PageFetcher retrieves an article page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor pulls the visible article text out of a fetched page. An empty
// string is a valid result.
type Extractor interface {
	ArticleText(page Page) (string, error)
}

// MediaResolver inspects a fetched page and resolves a canonical media
// locator. The second return is false when the page carries no media, which
// is not an error.
type MediaResolver interface {
	Resolve(page Page) (MediaLocator, bool, error)
}

// MediaDownloader produces the article's media file at a fixed filename in
// outputDir, given a resolved locator and the article's language edition.
type MediaDownloader interface {
	Download(ctx context.Context, loc MediaLocator, language, outputDir string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
