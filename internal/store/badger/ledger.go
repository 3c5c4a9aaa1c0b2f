package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// Ledger is the badgerhold-backed harvest.Ledger. Claim and advance are
// serialized on a mutex: badgerhold gives per-operation atomicity, but the
// claim is a read-modify-write that must be exclusive as a whole.
type Ledger struct {
	store  *Store
	mu     sync.Mutex
	logger *zap.Logger
}

// NewLedger constructs a Ledger over the shared store.
func NewLedger(store *Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

// InsertIfAbsent stores rec unless its key already exists.
func (l *Ledger) InsertIfAbsent(_ context.Context, rec harvest.ArticleRecord) error {
	rec.Status = harvest.StatusNew
	rec.TextDone = false
	rec.MediaDone = false
	err := l.store.store.Insert(rec.Key().String(), rec)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert article %s: %w", rec.Key(), err)
	}
	return nil
}

// ClaimNext atomically claims one StatusNew record for the language.
func (l *Ledger) ClaimNext(_ context.Context, language string) (harvest.ArticleRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	query := badgerhold.Where("Status").Eq(harvest.StatusNew)
	if language != "" {
		query = query.And("Language").Eq(language)
	}
	var rec harvest.ArticleRecord
	if err := l.store.store.FindOne(&rec, query); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return harvest.ArticleRecord{}, harvest.ErrNoneAvailable
		}
		return harvest.ArticleRecord{}, fmt.Errorf("find claimable article: %w", err)
	}
	rec.Status = harvest.StatusClaimed
	if err := l.store.store.Upsert(rec.Key().String(), rec); err != nil {
		return harvest.ArticleRecord{}, fmt.Errorf("claim article %s: %w", rec.Key(), err)
	}
	return rec, nil
}

// Advance marks a sub-task finished and returns the resulting status.
func (l *Ledger) Advance(_ context.Context, key harvest.ArticleKey, task harvest.SubTask) (harvest.CrawlStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rec harvest.ArticleRecord
	if err := l.store.store.Get(key.String(), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, fmt.Errorf("advance %s: %w", key, harvest.ErrNotFound)
		}
		return 0, fmt.Errorf("advance %s: %w", key, err)
	}
	if rec.Status < harvest.StatusClaimed {
		return 0, fmt.Errorf("advance %s: record is not claimed", key)
	}
	if err := rec.MarkDone(task); err != nil {
		return 0, err
	}
	if err := l.store.store.Upsert(key.String(), rec); err != nil {
		return 0, fmt.Errorf("advance %s: %w", key, err)
	}
	return rec.Status, nil
}

// ResetInProgress returns every claimed-but-incomplete record to StatusNew.
func (l *Ledger) ResetInProgress(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	query := badgerhold.Where("Status").Ge(harvest.StatusClaimed).And("Status").Lt(harvest.StatusComplete)
	err := l.store.store.UpdateMatching(&harvest.ArticleRecord{}, query, func(record interface{}) error {
		rec, ok := record.(*harvest.ArticleRecord)
		if !ok {
			return fmt.Errorf("unexpected record type %T", record)
		}
		rec.Status = harvest.StatusNew
		rec.TextDone = false
		rec.MediaDone = false
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reset in-progress articles: %w", err)
	}
	if n > 0 {
		l.logger.Info("reset interrupted articles to new", zap.Int("count", n))
	}
	return n, nil
}

// ResetOne returns a single record to StatusNew.
func (l *Ledger) ResetOne(_ context.Context, key harvest.ArticleKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rec harvest.ArticleRecord
	if err := l.store.store.Get(key.String(), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("reset %s: %w", key, harvest.ErrNotFound)
		}
		return fmt.Errorf("reset %s: %w", key, err)
	}
	rec.Status = harvest.StatusNew
	rec.TextDone = false
	rec.MediaDone = false
	if err := l.store.store.Upsert(key.String(), rec); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

// Quarantine moves the record into the download_errors table.
func (l *Ledger) Quarantine(_ context.Context, key harvest.ArticleKey, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rec harvest.ArticleRecord
	if err := l.store.store.Get(key.String(), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("quarantine %s: %w", key, harvest.ErrNotFound)
		}
		return fmt.Errorf("quarantine %s: %w", key, err)
	}
	quarantined := harvest.QuarantinedRecord{
		ID:       uuid.NewString(),
		Record:   rec,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	if err := l.store.store.Insert(quarantined.ID, quarantined); err != nil {
		return fmt.Errorf("store quarantined %s: %w", key, err)
	}
	if err := l.store.store.Delete(key.String(), &harvest.ArticleRecord{}); err != nil {
		return fmt.Errorf("remove quarantined %s from ledger: %w", key, err)
	}
	l.logger.Warn("article quarantined",
		zap.String("article", key.String()),
		zap.String("reason", reason),
	)
	return nil
}

// CompactComplete deletes every StatusComplete record.
func (l *Ledger) CompactComplete(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	query := badgerhold.Where("Status").Eq(harvest.StatusComplete)
	count, err := l.store.store.Count(&harvest.ArticleRecord{}, query)
	if err != nil {
		return 0, fmt.Errorf("count complete articles: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := l.store.store.DeleteMatching(&harvest.ArticleRecord{}, query); err != nil {
		return 0, fmt.Errorf("compact complete articles: %w", err)
	}
	return int(count), nil
}

// PendingCount reports the number of StatusNew records.
func (l *Ledger) PendingCount(_ context.Context) (int, error) {
	count, err := l.store.store.Count(&harvest.ArticleRecord{}, badgerhold.Where("Status").Eq(harvest.StatusNew))
	if err != nil {
		return 0, fmt.Errorf("count pending articles: %w", err)
	}
	return int(count), nil
}

// Quarantined lists the download error records.
func (l *Ledger) Quarantined(_ context.Context) ([]harvest.QuarantinedRecord, error) {
	var out []harvest.QuarantinedRecord
	if err := l.store.store.Find(&out, nil); err != nil {
		return nil, fmt.Errorf("list quarantined articles: %w", err)
	}
	return out, nil
}

// Get fetches one record by key; used by tests and the status API.
func (l *Ledger) Get(_ context.Context, key harvest.ArticleKey) (harvest.ArticleRecord, error) {
	var rec harvest.ArticleRecord
	if err := l.store.store.Get(key.String(), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return harvest.ArticleRecord{}, harvest.ErrNotFound
		}
		return harvest.ArticleRecord{}, err
	}
	return rec, nil
}
