// Package intervals maintains the set of time intervals a source has
// already been scanned for. The set is always pairwise disjoint and sorted
// by start; overlapping or touching intervals are coalesced on insert.
package intervals

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Interval is a closed time span [Start, End] in UTC.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns the interval [start, end], swapping the bounds if needed.
func New(start, end time.Time) Interval {
	if end.Before(start) {
		start, end = end, start
	}
	return Interval{Start: start.UTC(), End: end.UTC()}
}

// Contains reports whether t lies within the closed interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}

// Intersects reports whether the two closed intervals overlap or touch.
func (iv Interval) Intersects(other Interval) bool {
	return !iv.End.Before(other.Start) && !other.End.Before(iv.Start)
}

// Union returns the convex union: earliest start, latest end. Callers must
// not assume either argument is the chronologically newer one.
func (iv Interval) Union(other Interval) Interval {
	out := iv
	if other.Start.Before(out.Start) {
		out.Start = other.Start
	}
	if other.End.After(out.End) {
		out.End = other.End
	}
	return out
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s]", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// Set holds the disjoint, sorted scanned intervals for one source. It is
// safe for concurrent use; all mutation is serialized on an internal mutex,
// since independent backward scans for the same source interleave their
// inserts.
type Set struct {
	mu  sync.Mutex
	ivs []Interval
}

// NewSet builds a Set from the given intervals, normalizing them into
// disjoint sorted form.
func NewSet(ivs ...Interval) *Set {
	s := &Set{}
	for _, iv := range ivs {
		s.Insert(iv)
	}
	return s
}

// Insert adds iv and restores the set invariant: sort by start, then a
// left-to-right pass coalescing every interval that intersects or touches
// its successor.
func (s *Set) Insert(iv Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ivs = append(s.ivs, iv)
	if len(s.ivs) <= 1 {
		return
	}
	sort.Slice(s.ivs, func(i, j int) bool {
		return s.ivs[i].Start.Before(s.ivs[j].Start)
	})
	i := 0
	for i < len(s.ivs)-1 {
		if s.ivs[i].Intersects(s.ivs[i+1]) {
			s.ivs[i] = s.ivs[i].Union(s.ivs[i+1])
			s.ivs = append(s.ivs[:i+1], s.ivs[i+2:]...)
		} else {
			i++
		}
	}
}

// Surrounding returns the interval containing t, if any.
func (s *Set) Surrounding(t time.Time) (Interval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, iv := range s.ivs {
		if iv.Contains(t) {
			return iv, true
		}
	}
	return Interval{}, false
}

// Snapshot returns a copy of the current intervals, sorted by start.
func (s *Set) Snapshot() []Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Interval, len(s.ivs))
	copy(out, s.ivs)
	return out
}

// Len returns the number of disjoint intervals.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ivs)
}
