package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

func TestNowReturnsUTC(t *testing.T) {
	t.Parallel()

	var clk harvest.Clock = New()

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location(), "interval bookkeeping relies on UTC instants")
	require.False(t, got.Before(before))
	require.False(t, got.After(after))
}

func TestNowIsNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
