package persistence

import (
	"bb-rsi-backtest-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCandles() []models.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.Candle{
		{Time: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Time: t0.Add(5 * time.Minute), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 12},
	}
}

func TestInMemoryStore_PutGet(t *testing.T) {
	cache, err := NewInMemoryStore()
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get("BTCUSDT|5m|0|2|backward")
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleCandles()
	require.NoError(t, cache.Put("BTCUSDT|5m|0|2|backward", want))

	got, ok, err := cache.Get("BTCUSDT|5m|0|2|backward")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Time.Equal(got[i].Time))
		assert.Equal(t, want[i].Close, got[i].Close)
		assert.Equal(t, want[i].Volume, got[i].Volume)
	}
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	cache, err := NewBadgerStore(dir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, cache.Put("k", sampleCandles()))
	require.NoError(t, cache.Close())

	reopened, err := NewBadgerStore(dir, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, got, 2)
}

func TestBadgerStore_OverwritesKey(t *testing.T) {
	cache, err := NewInMemoryStore()
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Put("k", sampleCandles()))
	require.NoError(t, cache.Put("k", sampleCandles()[:1]))

	got, ok, err := cache.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, got, 1)
}

func TestBadgerStore_Results(t *testing.T) {
	store, err := NewInMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.LoadResult("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	upper := 101.5
	res := &models.RunResult{
		ID:         "8f14e45f",
		Instrument: "BTCUSDT",
		Snapshots:  []models.Snapshot{{Time: 1704067200, Close: 100, BBUpper: &upper, TradeCount: 1}},
		Trades:     []models.Trade{{Side: models.Long, EntryPrice: 95, ExitPrice: 100, PnL: 5}},
		Stats:      models.RunStats{LongsAttempted: 1, LongsWon: 1, TradeCount: 1, TotalProfit: 5, Trend: models.Long},
	}
	require.NoError(t, store.SaveResult(res))

	got, ok, err := store.LoadResult("8f14e45f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Stats, got.Stats)
	require.NotNil(t, got.Snapshots[0].BBUpper)
	assert.Equal(t, 101.5, *got.Snapshots[0].BBUpper)
	assert.Nil(t, got.Snapshots[0].BBLower)

	assert.Error(t, store.SaveResult(&models.RunResult{}))
}
