// Package memory provides store implementations for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// Ledger is an in-memory implementation of harvest.Ledger.
type Ledger struct {
	mu          sync.Mutex
	records     map[harvest.ArticleKey]harvest.ArticleRecord
	quarantined []harvest.QuarantinedRecord
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[harvest.ArticleKey]harvest.ArticleRecord),
	}
}

// InsertIfAbsent stores rec unless its key is already present.
func (l *Ledger) InsertIfAbsent(_ context.Context, rec harvest.ArticleRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.Key()]; exists {
		return nil
	}
	rec.Status = harvest.StatusNew
	rec.TextDone = false
	rec.MediaDone = false
	l.records[rec.Key()] = rec
	return nil
}

// ClaimNext transitions one StatusNew record for the language to
// StatusClaimed. The mutex makes the select-and-update atomic, so two
// concurrent claimers can never receive the same record.
func (l *Ledger) ClaimNext(_ context.Context, language string) (harvest.ArticleRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]harvest.ArticleKey, 0, len(l.records))
	for k := range l.records {
		keys = append(keys, k)
	}
	// Deterministic scan order keeps claims fair across repeated calls.
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		rec := l.records[k]
		if rec.Status != harvest.StatusNew {
			continue
		}
		if language != "" && rec.Language != language {
			continue
		}
		rec.Status = harvest.StatusClaimed
		l.records[k] = rec
		return rec, nil
	}
	return harvest.ArticleRecord{}, harvest.ErrNoneAvailable
}

// Advance marks a sub-task finished on a claimed record.
func (l *Ledger) Advance(_ context.Context, key harvest.ArticleKey, task harvest.SubTask) (harvest.CrawlStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return 0, fmt.Errorf("advance %s: %w", key, harvest.ErrNotFound)
	}
	if rec.Status < harvest.StatusClaimed {
		return 0, fmt.Errorf("advance %s: record is not claimed", key)
	}
	if err := rec.MarkDone(task); err != nil {
		return 0, err
	}
	l.records[key] = rec
	return rec.Status, nil
}

// ResetInProgress returns every claimed-but-incomplete record to StatusNew.
func (l *Ledger) ResetInProgress(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, rec := range l.records {
		if rec.InProgress() {
			rec.Status = harvest.StatusNew
			rec.TextDone = false
			rec.MediaDone = false
			l.records[k] = rec
			n++
		}
	}
	return n, nil
}

// ResetOne returns a single record to StatusNew.
func (l *Ledger) ResetOne(_ context.Context, key harvest.ArticleKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return fmt.Errorf("reset %s: %w", key, harvest.ErrNotFound)
	}
	rec.Status = harvest.StatusNew
	rec.TextDone = false
	rec.MediaDone = false
	l.records[key] = rec
	return nil
}

// Quarantine moves the record, payload intact, onto the error list.
func (l *Ledger) Quarantine(_ context.Context, key harvest.ArticleKey, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return fmt.Errorf("quarantine %s: %w", key, harvest.ErrNotFound)
	}
	delete(l.records, key)
	l.quarantined = append(l.quarantined, harvest.QuarantinedRecord{
		ID:       uuid.NewString(),
		Record:   rec,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	})
	return nil
}

// CompactComplete deletes every StatusComplete record.
func (l *Ledger) CompactComplete(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, rec := range l.records {
		if rec.Status == harvest.StatusComplete {
			delete(l.records, k)
			n++
		}
	}
	return n, nil
}

// PendingCount reports the number of StatusNew records.
func (l *Ledger) PendingCount(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, rec := range l.records {
		if rec.Status == harvest.StatusNew {
			n++
		}
	}
	return n, nil
}

// Quarantined returns a copy of the error list.
func (l *Ledger) Quarantined(_ context.Context) ([]harvest.QuarantinedRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]harvest.QuarantinedRecord, len(l.quarantined))
	copy(out, l.quarantined)
	return out, nil
}

// Get returns the stored record for key, primarily for tests.
func (l *Ledger) Get(key harvest.ArticleKey) (harvest.ArticleRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	return rec, ok
}

// Len returns the number of active records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
