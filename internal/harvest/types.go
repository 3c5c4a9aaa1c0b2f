// Package harvest defines core types shared across subsystems.
package harvest

import (
	"encoding/json"
	"fmt"
	"time"
)

// CrawlStatus is the lifecycle position of an article record. The numeric
// values are persisted, so they must stay stable.
type CrawlStatus int

// Lifecycle states. Claimed plus one finished sub-task is 2; both sub-tasks
// finished is Complete.
const (
	StatusNew      CrawlStatus = 0
	StatusClaimed  CrawlStatus = 1
	StatusComplete CrawlStatus = 3
)

// SubTask names one of the two units of work performed per claimed article.
type SubTask string

// Sub-tasks tracked per article.
const (
	TaskText  SubTask = "text"
	TaskMedia SubTask = "media"
)

// ArticleKey uniquely identifies an article across all sources.
type ArticleKey struct {
	ID       string
	Language string
}

// String renders the key in the form used for store keys and log fields.
func (k ArticleKey) String() string {
	return k.Language + "/" + k.ID
}

// ArticleRecord is the persistent ledger row for one discovered article.
//
// Status is derived from the two completion flags while the record is
// claimed: StatusClaimed plus one per finished sub-task. Tracking the flags
// instead of a bare counter makes sub-task completion idempotent, so a
// retried sub-task can never advance the record twice.
type ArticleRecord struct {
	ID          string          `json:"id"`
	Language    string          `json:"language" badgerhold:"index"`
	FullURL     string          `json:"full_url"`
	OutputDir   string          `json:"output_dir"`
	Status      CrawlStatus     `json:"crawl_status" badgerhold:"index"`
	TextDone    bool            `json:"text_done"`
	MediaDone   bool            `json:"media_done"`
	PublishedAt time.Time       `json:"published_at"`
	Discovered  time.Time       `json:"discovered_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Key returns the dedup key for the record.
func (r ArticleRecord) Key() ArticleKey {
	return ArticleKey{ID: r.ID, Language: r.Language}
}

// MarkDone records completion of a sub-task and recomputes Status. Marking
// the same sub-task twice is a no-op.
func (r *ArticleRecord) MarkDone(task SubTask) error {
	switch task {
	case TaskText:
		r.TextDone = true
	case TaskMedia:
		r.MediaDone = true
	default:
		return fmt.Errorf("unknown sub-task %q", task)
	}
	done := CrawlStatus(0)
	if r.TextDone {
		done++
	}
	if r.MediaDone {
		done++
	}
	r.Status = StatusClaimed + done
	return nil
}

// InProgress reports whether the record is claimed but not yet complete.
func (r ArticleRecord) InProgress() bool {
	return r.Status >= StatusClaimed && r.Status < StatusComplete
}

// QuarantinedRecord preserves a failed article for offline inspection.
type QuarantinedRecord struct {
	ID       string        `json:"id"`
	Record   ArticleRecord `json:"record"`
	Reason   string        `json:"reason"`
	FailedAt time.Time     `json:"failed_at"`
}

// Source identifies one crawlable listing endpoint: a site plus a language
// edition. All sources share the same pagination algorithm, so the type is
// pure data.
type Source struct {
	SiteID   string
	Language string
	BaseURL  string
	APIURL   string
	PageSize int
}

// Key returns the identifier used for persisted per-source state.
func (s Source) Key() string {
	return s.SiteID + "/" + s.Language
}

// NewSource builds a Source from a site and language edition following the
// <language>.<site>/<apiPath> endpoint layout.
func NewSource(siteID, language, apiPath string, pageSize int) Source {
	if apiPath == "" {
		apiPath = "api/timeline.json"
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	base := fmt.Sprintf("https://%s.%s", language, siteID)
	return Source{
		SiteID:   siteID,
		Language: language,
		BaseURL:  base,
		APIURL:   base + "/" + apiPath,
		PageSize: pageSize,
	}
}

// ListingItem is one entry returned by a source's listing API.
type ListingItem struct {
	ID          string
	PublishedAt time.Time
	FullURL     string
	Raw         json.RawMessage
}

// Page is a fetched article page.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// LocatorKind discriminates resolved media locators.
type LocatorKind string

// Locator kinds produced by the resolver.
const (
	LocatorPlatformID LocatorKind = "platform_id"
	LocatorDirectURL  LocatorKind = "direct_url"
)

// MediaLocator is a resolved reference sufficient to download an article's
// media: either a platform video id or a direct media URL.
type MediaLocator struct {
	Kind LocatorKind
	ID   string
	URL  string
}
