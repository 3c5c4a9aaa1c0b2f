package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/lgeiger/newsharvest/internal/harvest"
	"github.com/lgeiger/newsharvest/internal/intervals"
)

// websiteDoc is the persisted frontier progress for one source. Intervals
// are stored as RFC3339 string pairs so the on-disk form stays readable and
// stable across clock representations.
type websiteDoc struct {
	SiteID    string `badgerhold:"index"`
	Language  string
	Intervals []storedInterval
	UpdatedAt time.Time
}

type storedInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WebsiteStore persists per-source scanned interval sets.
type WebsiteStore struct {
	store *Store
}

// NewWebsiteStore constructs a WebsiteStore over the shared store.
func NewWebsiteStore(store *Store) *WebsiteStore {
	return &WebsiteStore{store: store}
}

// SaveIntervals upserts the interval set for the source.
func (w *WebsiteStore) SaveIntervals(_ context.Context, src harvest.Source, ivs []intervals.Interval) error {
	doc := websiteDoc{
		SiteID:    src.SiteID,
		Language:  src.Language,
		Intervals: make([]storedInterval, 0, len(ivs)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, iv := range ivs {
		doc.Intervals = append(doc.Intervals, storedInterval{
			Start: iv.Start.UTC().Format(time.RFC3339),
			End:   iv.End.UTC().Format(time.RFC3339),
		})
	}
	if err := w.store.store.Upsert(src.Key(), doc); err != nil {
		return fmt.Errorf("save intervals for %s: %w", src.Key(), err)
	}
	return nil
}

// LoadIntervals returns the persisted interval set for the source, or nil
// when the source has never been saved.
func (w *WebsiteStore) LoadIntervals(_ context.Context, src harvest.Source) ([]intervals.Interval, error) {
	var doc websiteDoc
	if err := w.store.store.Get(src.Key(), &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load intervals for %s: %w", src.Key(), err)
	}
	out := make([]intervals.Interval, 0, len(doc.Intervals))
	for _, si := range doc.Intervals {
		start, err := time.Parse(time.RFC3339, si.Start)
		if err != nil {
			return nil, fmt.Errorf("parse interval start for %s: %w", src.Key(), err)
		}
		end, err := time.Parse(time.RFC3339, si.End)
		if err != nil {
			return nil, fmt.Errorf("parse interval end for %s: %w", src.Key(), err)
		}
		out = append(out, intervals.New(start, end))
	}
	return out, nil
}
