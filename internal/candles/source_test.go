package candles

import (
	"bb-rsi-backtest-go/internal/models"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeFetcher 在内存序列上模拟按锚点分页的数据源
type fakeFetcher struct {
	mu       sync.Mutex
	rows     []RawCandle
	maxBatch int
	err      error
	requests []BatchRequest
}

func newFakeFetcher(n, maxBatch int) *fakeFetcher {
	rows := make([]RawCandle, n)
	for i := range rows {
		rows[i] = RawCandle{
			Candle: models.Candle{
				Time:   t0.Add(time.Duration(i) * 5 * time.Minute),
				Open:   float64(100 + i),
				High:   float64(101 + i),
				Low:    float64(99 + i),
				Close:  float64(100 + i),
				Volume: 10,
			},
			Complete: true,
		}
	}
	return &fakeFetcher{rows: rows, maxBatch: maxBatch}
}

func (f *fakeFetcher) Name() string  { return "fake" }
func (f *fakeFetcher) MaxBatch() int { return f.maxBatch }

func (f *fakeFetcher) FetchBatch(_ context.Context, req BatchRequest) ([]RawCandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if req.Direction == Forward {
		start := sort.Search(len(f.rows), func(i int) bool { return !f.rows[i].Time.Before(req.Anchor) })
		end := min(start+req.Limit, len(f.rows))
		return append([]RawCandle(nil), f.rows[start:end]...), nil
	}
	end := len(f.rows)
	if !req.Anchor.IsZero() {
		end = sort.Search(len(f.rows), func(i int) bool { return f.rows[i].Time.After(req.Anchor) })
	}
	start := max(end-req.Limit, 0)
	return append([]RawCandle(nil), f.rows[start:end]...), nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]models.Candle
}

func (c *mapCache) Get(key string) ([]models.Candle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Put(key string, candles []models.Candle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = candles
	return nil
}

func assertAscendingUnique(t *testing.T, rows []models.Candle) {
	t.Helper()
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Time.After(rows[i-1].Time), "row %d is not after row %d", i, i-1)
	}
}

func TestLoad_PaginatesBackwardUntilCount(t *testing.T) {
	f := newFakeFetcher(25, 10)
	src := NewSource(f, zap.NewNop())

	rows, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 25})
	require.NoError(t, err)
	require.Len(t, rows, 25)
	assertAscendingUnique(t, rows)
	assert.Equal(t, f.rows[0].Time, rows[0].Time)
	assert.Equal(t, f.rows[24].Time, rows[24].Time)

	require.Equal(t, 3, f.calls())
	assert.True(t, f.requests[0].Anchor.IsZero())
	assert.Equal(t, f.rows[15].Time.Add(-time.Second), f.requests[1].Anchor)
	assert.Equal(t, f.rows[5].Time.Add(-time.Second), f.requests[2].Anchor)
	assert.Equal(t, []int{10, 10, 5}, []int{f.requests[0].Limit, f.requests[1].Limit, f.requests[2].Limit})
}

func TestLoad_KeepsNewestRowsBackward(t *testing.T) {
	f := newFakeFetcher(25, 10)
	src := NewSource(f, zap.NewNop())

	rows, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 12})
	require.NoError(t, err)
	require.Len(t, rows, 12)
	assert.Equal(t, f.rows[13].Time, rows[0].Time)
	assert.Equal(t, f.rows[24].Time, rows[11].Time)
}

func TestLoad_DropsIncompleteCandles(t *testing.T) {
	f := newFakeFetcher(25, 10)
	f.rows[24].Complete = false
	src := NewSource(f, zap.NewNop())

	rows, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 5})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, f.rows[19].Time, rows[0].Time)
	assert.Equal(t, f.rows[23].Time, rows[4].Time)
	assert.Equal(t, 2, f.calls())
}

func TestLoad_StopsWhenHistoryExhausted(t *testing.T) {
	f := newFakeFetcher(5, 10)
	src := NewSource(f, zap.NewNop())

	rows, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 100})
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, 2, f.calls())
}

func TestLoad_EmptyHistoryIsNotAnError(t *testing.T) {
	f := newFakeFetcher(0, 10)
	src := NewSource(f, zap.NewNop())

	rows, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 100})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestLoad_ZeroCountSkipsFetch(t *testing.T) {
	f := newFakeFetcher(5, 10)
	src := NewSource(f, zap.NewNop())

	rows, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 0})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, f.calls())
}

func TestLoad_WrapsTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	f := newFakeFetcher(5, 10)
	f.err = boom
	src := NewSource(f, zap.NewNop())

	_, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, boom)
}

func TestLoad_RejectsUnknownGranularity(t *testing.T) {
	src := NewSource(newFakeFetcher(5, 10), zap.NewNop())
	_, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "7m", Count: 5})
	assert.Error(t, err)
}

func TestLoad_ForwardPagingKeepsEarliestRows(t *testing.T) {
	f := newFakeFetcher(20, 4)
	src := NewSource(f, zap.NewNop())

	rows, err := src.Load(context.Background(), Request{
		Instrument:  "BTCUSDT",
		Granularity: "5m",
		Anchor:      f.rows[3].Time,
		Count:       7,
		Direction:   Forward,
	})
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, f.rows[3].Time, rows[0].Time)
	assert.Equal(t, f.rows[9].Time, rows[6].Time)
	require.Equal(t, 2, f.calls())
	assert.Equal(t, f.rows[6].Time.Add(time.Second), f.requests[1].Anchor)
}

func TestLoad_ForwardRequiresAnchor(t *testing.T) {
	src := NewSource(newFakeFetcher(5, 10), zap.NewNop())
	_, err := src.Load(context.Background(), Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 5, Direction: Forward})
	assert.Error(t, err)
}

func TestLoad_CachesAnchoredRequests(t *testing.T) {
	f := newFakeFetcher(30, 10)
	cache := &mapCache{data: map[string][]models.Candle{}}
	src := NewSource(f, zap.NewNop(), WithCache(cache))
	req := Request{Instrument: "BTCUSDT", Granularity: "5m", Anchor: f.rows[20].Time, Count: 8}

	first, err := src.Load(context.Background(), req)
	require.NoError(t, err)
	calls := f.calls()
	require.Positive(t, calls)

	second, err := src.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calls, f.calls(), "second load should be served from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, f.rows[20].Time, second[len(second)-1].Time)
}

func TestLoad_DoesNotCacheLatestRequests(t *testing.T) {
	f := newFakeFetcher(30, 10)
	cache := &mapCache{data: map[string][]models.Candle{}}
	src := NewSource(f, zap.NewNop(), WithCache(cache))
	req := Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 8}

	_, err := src.Load(context.Background(), req)
	require.NoError(t, err)
	_, err = src.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls())
	assert.Empty(t, cache.data)
}

func TestLoadPair(t *testing.T) {
	f := newFakeFetcher(50, 100)
	src := NewSource(f, zap.NewNop())

	entry, trend, err := src.LoadPair(context.Background(),
		Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 40},
		Request{Instrument: "BTCUSDT", Granularity: "1h", Count: 10},
	)
	require.NoError(t, err)
	assert.Len(t, entry, 40)
	assert.Len(t, trend, 10)
}

func TestLoadPair_PropagatesError(t *testing.T) {
	f := newFakeFetcher(50, 100)
	f.err = errors.New("503")
	src := NewSource(f, zap.NewNop())

	_, _, err := src.LoadPair(context.Background(),
		Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 40},
		Request{Instrument: "BTCUSDT", Granularity: "1h", Count: 10},
	)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestMergeSeries_DedupsAndSorts(t *testing.T) {
	at := func(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }
	rows := []models.Candle{
		{Time: at(3), Close: 3},
		{Time: at(1), Close: 1},
		{Time: at(2), Close: 2},
		{Time: at(3), Close: 33},
		{Time: at(0), Close: 0},
	}

	out := mergeSeries(rows, 10, Backward)
	require.Len(t, out, 4)
	assertAscendingUnique(t, out)
	assert.Equal(t, 3.0, out[3].Close, "first occurrence wins on duplicate timestamps")

	out = mergeSeries(rows, 2, Backward)
	require.Len(t, out, 2)
	assert.Equal(t, at(2), out[0].Time)

	out = mergeSeries(rows, 2, Forward)
	require.Len(t, out, 2)
	assert.Equal(t, at(0), out[0].Time)
}

func TestRequestKey(t *testing.T) {
	a := Request{Instrument: "btcusdt", Granularity: "5M", Anchor: t0, Count: 10}
	b := Request{Instrument: "BTCUSDT", Granularity: "5m", Anchor: t0, Count: 10, Direction: Backward}
	assert.Equal(t, a.Key(), b.Key())

	b.Direction = Forward
	assert.NotEqual(t, a.Key(), b.Key())
}
