package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return NewLedger(store, zap.NewNop())
}

func testRecord(id, lang string) harvest.ArticleRecord {
	return harvest.ArticleRecord{
		ID:          id,
		Language:    lang,
		FullURL:     "https://" + lang + ".example.com/" + id,
		OutputDir:   "/data/" + lang + "/" + id,
		PublishedAt: time.Unix(1000, 0).UTC(),
		Payload:     []byte(`{"id":"` + id + `"}`),
	}
}

func TestLedgerInsertClaimAdvanceRoundTrip(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()
	rec := testRecord("a1", "de")

	require.NoError(t, ledger.InsertIfAbsent(ctx, rec))
	require.NoError(t, ledger.InsertIfAbsent(ctx, rec), "duplicate insert must be a no-op")

	pending, err := ledger.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)

	claimed, err := ledger.ClaimNext(ctx, "de")
	require.NoError(t, err)
	require.Equal(t, rec.Key(), claimed.Key())
	require.Equal(t, harvest.StatusClaimed, claimed.Status)
	require.Equal(t, rec.FullURL, claimed.FullURL)
	require.Equal(t, rec.OutputDir, claimed.OutputDir)

	_, err = ledger.ClaimNext(ctx, "de")
	require.ErrorIs(t, err, harvest.ErrNoneAvailable)

	status, err := ledger.Advance(ctx, rec.Key(), harvest.TaskMedia)
	require.NoError(t, err)
	require.Equal(t, harvest.StatusClaimed+1, status)

	status, err = ledger.Advance(ctx, rec.Key(), harvest.TaskText)
	require.NoError(t, err)
	require.Equal(t, harvest.StatusComplete, status)

	n, err := ledger.CompactComplete(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = ledger.Get(ctx, rec.Key())
	require.ErrorIs(t, err, harvest.ErrNotFound)
}

func TestLedgerClaimNextConcurrent(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()
	const n = 60
	for i := 0; i < n; i++ {
		require.NoError(t, ledger.InsertIfAbsent(ctx, testRecord(fmt.Sprintf("a%02d", i), "de")))
	}

	var mu sync.Mutex
	seen := make(map[harvest.ArticleKey]int)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rec, err := ledger.ClaimNext(ctx, "de")
				if errors.Is(err, harvest.ErrNoneAvailable) {
					return
				}
				require.NoError(t, err)
				mu.Lock()
				seen[rec.Key()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for key, count := range seen {
		require.Equal(t, 1, count, "record %s claimed more than once", key)
	}
}

func TestLedgerResetInProgress(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.InsertIfAbsent(ctx, testRecord("a1", "de")))
	require.NoError(t, ledger.InsertIfAbsent(ctx, testRecord("a2", "de")))

	first, err := ledger.ClaimNext(ctx, "de")
	require.NoError(t, err)
	_, err = ledger.Advance(ctx, first.Key(), harvest.TaskText)
	require.NoError(t, err)

	n, err := ledger.ResetInProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := ledger.Get(ctx, first.Key())
	require.NoError(t, err)
	require.Equal(t, harvest.StatusNew, got.Status)
	require.False(t, got.TextDone)

	pending, err := ledger.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending)
}

func TestLedgerQuarantine(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	ctx := context.Background()
	rec := testRecord("a1", "de")
	require.NoError(t, ledger.InsertIfAbsent(ctx, rec))
	_, err := ledger.ClaimNext(ctx, "de")
	require.NoError(t, err)

	require.NoError(t, ledger.Quarantine(ctx, rec.Key(), "video unavailable"))

	_, err = ledger.Get(ctx, rec.Key())
	require.ErrorIs(t, err, harvest.ErrNotFound)

	q, err := ledger.Quarantined(ctx)
	require.NoError(t, err)
	require.Len(t, q, 1)
	require.Equal(t, rec.Key(), q[0].Record.Key())
	require.Equal(t, "video unavailable", q[0].Reason)
	require.JSONEq(t, string(rec.Payload), string(q[0].Record.Payload))
}

func TestLedgerSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	ledger := NewLedger(store, zap.NewNop())
	rec := testRecord("a1", "de")
	require.NoError(t, ledger.InsertIfAbsent(ctx, rec))
	_, err = ledger.ClaimNext(ctx, "de")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()
	ledger = NewLedger(store, zap.NewNop())

	// The record interrupted mid-download comes back claimable.
	n, err := ledger.ResetInProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	claimed, err := ledger.ClaimNext(ctx, "de")
	require.NoError(t, err)
	require.Equal(t, rec.Key(), claimed.Key())
}
