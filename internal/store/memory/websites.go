package memory

import (
	"context"
	"sync"

	"github.com/lgeiger/newsharvest/internal/harvest"
	"github.com/lgeiger/newsharvest/internal/intervals"
)

// WebsiteStore keeps per-source scanned interval sets in memory.
type WebsiteStore struct {
	mu   sync.Mutex
	sets map[string][]intervals.Interval
}

// NewWebsiteStore constructs an empty WebsiteStore.
func NewWebsiteStore() *WebsiteStore {
	return &WebsiteStore{sets: make(map[string][]intervals.Interval)}
}

// SaveIntervals replaces the stored interval set for the source.
func (s *WebsiteStore) SaveIntervals(_ context.Context, src harvest.Source, ivs []intervals.Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]intervals.Interval, len(ivs))
	copy(cp, ivs)
	s.sets[src.Key()] = cp
	return nil
}

// LoadIntervals returns the stored interval set for the source, or nil when
// the source has never been persisted.
func (s *WebsiteStore) LoadIntervals(_ context.Context, src harvest.Source) ([]intervals.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ivs, ok := s.sets[src.Key()]
	if !ok {
		return nil, nil
	}
	cp := make([]intervals.Interval, len(ivs))
	copy(cp, ivs)
	return cp, nil
}
