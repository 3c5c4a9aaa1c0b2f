package frontier

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
	"github.com/lgeiger/newsharvest/internal/intervals"
	"github.com/lgeiger/newsharvest/internal/store/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// fakeListing scripts FetchOlder responses per call and records the boundary
// of every request it receives.
type fakeListing struct {
	mu         sync.Mutex
	responses  []listingResponse
	boundaries []time.Time
}

type listingResponse struct {
	items []harvest.ListingItem
	err   error
}

func (f *fakeListing) FetchOlder(_ context.Context, _ harvest.Source, before time.Time) ([]harvest.ListingItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boundaries = append(f.boundaries, before)
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.items, resp.err
}

func (f *fakeListing) seenBoundaries() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.boundaries))
	copy(out, f.boundaries)
	return out
}

func item(id string, published time.Time) harvest.ListingItem {
	return harvest.ListingItem{
		ID:          id,
		PublishedAt: published,
		FullURL:     "/" + id,
		Raw:         json.RawMessage(`{"id":"` + id + `"}`),
	}
}

func TestBackoffDoublesPerConsecutiveFailure(t *testing.T) {
	t.Parallel()

	src := harvest.NewSource("example.com", "de", "", 50)
	transient := harvest.Transient(context.DeadlineExceeded)
	listing := &fakeListing{responses: []listingResponse{
		{err: transient},
		{err: transient},
		{err: transient},
		{err: transient},
		{items: nil}, // success with empty page ends the chain
	}}

	ledger := memory.NewLedger()
	c := New(Config{WorkingDir: t.TempDir(), BaseBackoff: time.Second}, []harvest.Source{src},
		listing, ledger, memory.NewWebsiteStore(), fixedClock{now: time.Now()}, zap.NewNop())
	var slept []time.Duration
	c.sleepFn = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	st := c.sources[0]
	upper := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	st.set.Insert(intervals.New(upper, upper))
	c.runChain(context.Background(), st, upper)

	// After k consecutive failures the delay is 2^(k-1) times the base.
	require.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}, slept)

	// Every retry hit the same boundary; failure never advances the frontier.
	for _, b := range listing.seenBoundaries() {
		require.True(t, b.Equal(upper))
	}
}

func TestBackoffResetsAfterSuccess(t *testing.T) {
	t.Parallel()

	src := harvest.NewSource("example.com", "de", "", 50)
	upper := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	transient := harvest.Transient(context.DeadlineExceeded)
	listing := &fakeListing{responses: []listingResponse{
		{err: transient},
		{err: transient},
		{items: []harvest.ListingItem{item("a1", upper.Add(-time.Hour))}},
		{err: transient},
		{items: nil},
	}}

	c := New(Config{WorkingDir: t.TempDir(), BaseBackoff: time.Second}, []harvest.Source{src},
		listing, memory.NewLedger(), memory.NewWebsiteStore(), fixedClock{now: upper}, zap.NewNop())
	var slept []time.Duration
	c.sleepFn = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	st := c.sources[0]
	st.set.Insert(intervals.New(upper, upper))
	c.runChain(context.Background(), st, upper)

	// 1s, 2s before the first success; the failure after it starts at 1s
	// again.
	require.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		1 * time.Second,
	}, slept)
}

func TestBackoffHonorsCap(t *testing.T) {
	t.Parallel()

	st := &sourceState{}
	base := time.Second
	max := 4 * time.Second
	var delays []time.Duration
	for i := 0; i < 5; i++ {
		delays = append(delays, st.nextBackoff(base, max))
	}
	require.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}, delays)
}

func TestChainJumpsPastScannedRegion(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	older := now.Add(-10 * time.Hour)
	oldest := now.Add(-20 * time.Hour)
	src := harvest.NewSource("example.com", "de", "", 50)

	listing := &fakeListing{responses: []listingResponse{
		// The first batch's oldest item lands inside [oldest, older].
		{items: []harvest.ListingItem{item("a1", now.Add(-15 * time.Hour))}},
		{items: []harvest.ListingItem{item("a2", oldest.Add(-time.Hour))}},
		{items: nil},
	}}

	c := New(Config{WorkingDir: t.TempDir(), BaseBackoff: time.Second}, []harvest.Source{src},
		listing, memory.NewLedger(), memory.NewWebsiteStore(), fixedClock{now: now}, zap.NewNop())
	c.sleepFn = func(context.Context, time.Duration) error { return nil }

	st := c.sources[0]
	// A previous run already covered [oldest, older].
	st.set.Insert(intervals.New(oldest, older))
	st.set.Insert(intervals.New(now, now))
	c.runChain(context.Background(), st, now)

	boundaries := listing.seenBoundaries()
	require.Len(t, boundaries, 3)
	require.True(t, boundaries[0].Equal(now))
	// The first batch reached into [oldest, older], so the second request
	// starts at that region's start instead of re-walking it.
	require.True(t, boundaries[1].Equal(oldest))
	require.True(t, boundaries[2].Equal(oldest.Add(-time.Hour)))
}

func TestChainStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	src := harvest.NewSource("example.com", "de", "", 50)
	listing := &fakeListing{responses: []listingResponse{{items: nil}}}

	c := New(Config{WorkingDir: t.TempDir(), BaseBackoff: time.Second}, []harvest.Source{src},
		listing, memory.NewLedger(), memory.NewWebsiteStore(), fixedClock{now: now}, zap.NewNop())
	c.Tick(context.Background())
	c.Wait()

	require.Len(t, listing.seenBoundaries(), 1)
	require.False(t, c.sources[0].isRunning())
}

func TestIngestWritesMetaAndLedgerRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	src := harvest.NewSource("example.com", "de", "", 50)
	workingDir := t.TempDir()
	listing := &fakeListing{responses: []listingResponse{
		{items: []harvest.ListingItem{item("art-1", now.Add(-time.Hour))}},
		{items: nil},
	}}

	ledger := memory.NewLedger()
	c := New(Config{WorkingDir: workingDir, BaseBackoff: time.Second}, []harvest.Source{src},
		listing, ledger, memory.NewWebsiteStore(), fixedClock{now: now}, zap.NewNop())
	c.sleepFn = func(context.Context, time.Duration) error { return nil }
	c.Tick(context.Background())
	c.Wait()

	metaPath := filepath.Join(workingDir, "de", "art-1", "meta.json")
	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"art-1"}`, string(data))

	rec, ok := ledger.Get(harvest.ArticleKey{ID: "art-1", Language: "de"})
	require.True(t, ok)
	require.Equal(t, harvest.StatusNew, rec.Status)
	require.Equal(t, "https://de.example.com/art-1", rec.FullURL)
	require.Equal(t, filepath.Join(workingDir, "de", "art-1"), rec.OutputDir)
}

func TestTickSkipsSourcesWithActiveChain(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	src := harvest.NewSource("example.com", "de", "", 50)
	release := make(chan struct{})
	listing := &blockingListing{release: release}

	c := New(Config{WorkingDir: t.TempDir(), BaseBackoff: time.Second}, []harvest.Source{src},
		listing, memory.NewLedger(), memory.NewWebsiteStore(), fixedClock{now: now}, zap.NewNop())

	c.Tick(context.Background())
	c.Tick(context.Background()) // chain still blocked, must not double-start
	close(release)
	c.Wait()

	require.Equal(t, 1, listing.calls())
}

func TestTickSkipsWhenBacklogFull(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	src := harvest.NewSource("example.com", "de", "", 50)
	listing := &fakeListing{}

	ledger := memory.NewLedger()
	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.InsertIfAbsent(context.Background(), harvest.ArticleRecord{
			ID:       string(rune('a' + i)),
			Language: "de",
		}))
	}

	c := New(Config{WorkingDir: t.TempDir(), BaseBackoff: time.Second, BacklogLimit: 5},
		[]harvest.Source{src}, listing, ledger, memory.NewWebsiteStore(), fixedClock{now: now}, zap.NewNop())
	c.Tick(context.Background())
	c.Wait()

	require.Empty(t, listing.seenBoundaries())
}

func TestProgressRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	src := harvest.NewSource("example.com", "de", "", 50)
	websites := memory.NewWebsiteStore()

	c := New(Config{WorkingDir: t.TempDir()}, []harvest.Source{src},
		&fakeListing{}, memory.NewLedger(), websites, fixedClock{now: now}, zap.NewNop())
	c.sources[0].set.Insert(intervals.New(now.Add(-time.Hour), now))
	c.PersistProgress(context.Background())

	restored := New(Config{WorkingDir: t.TempDir()}, []harvest.Source{src},
		&fakeListing{}, memory.NewLedger(), websites, fixedClock{now: now}, zap.NewNop())
	require.NoError(t, restored.LoadProgress(context.Background()))

	got := restored.sources[0].set.Snapshot()
	require.Len(t, got, 1)
	require.True(t, got[0].Start.Equal(now.Add(-time.Hour)))
	require.True(t, got[0].End.Equal(now))
}

// blockingListing blocks its first call until released, to hold a chain open.
type blockingListing struct {
	mu      sync.Mutex
	n       int
	release chan struct{}
}

func (b *blockingListing) FetchOlder(context.Context, harvest.Source, time.Time) ([]harvest.ListingItem, error) {
	b.mu.Lock()
	b.n++
	b.mu.Unlock()
	<-b.release
	return nil, nil
}

func (b *blockingListing) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}
