package downloader

import (
	"bb-rsi-backtest-go/internal/candles"
	"bb-rsi-backtest-go/internal/models"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	rows  []candles.RawCandle
	err   error
	calls int
}

func (s *stubFetcher) Name() string  { return "stub" }
func (s *stubFetcher) MaxBatch() int { return 1000 }

func (s *stubFetcher) FetchBatch(_ context.Context, req candles.BatchRequest) ([]candles.RawCandle, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls > 1 {
		return nil, nil
	}
	return s.rows, nil
}

func stubRows(n int) []candles.RawCandle {
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candles.RawCandle, n)
	for i := range out {
		p := 50 + float64(i)
		out[i] = candles.RawCandle{
			Candle:   models.Candle{Time: t0.Add(time.Duration(i) * time.Hour), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 3},
			Complete: true,
		}
	}
	return out
}

func TestDownloadKlines_WritesReadableCSV(t *testing.T) {
	dir := t.TempDir()
	f := &stubFetcher{rows: stubRows(24)}
	d := NewKlineDownloader(candles.NewSource(f, zap.NewNop()), zap.NewNop())

	path, err := d.DownloadKlines(context.Background(), candles.Request{Instrument: "BTCUSDT", Granularity: "H1", Count: 24}, dir)
	require.NoError(t, err)
	tf, _ := candles.ParseTimeframe("1h")
	assert.Equal(t, candles.CSVPath(dir, "BTCUSDT", tf), path)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 25)
	assert.Equal(t, candles.CSVHeader, records[0])

	reread, err := candles.NewSource(candles.NewCSVFetcher(dir, 10), zap.NewNop()).Load(context.Background(),
		candles.Request{Instrument: "BTCUSDT", Granularity: "1h", Count: 24})
	require.NoError(t, err)
	require.Len(t, reread, 24)
	assert.Equal(t, f.rows[23].Candle, reread[23])
}

func TestDownloadKlines_SkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	tf, _ := candles.ParseTimeframe("5m")
	existing := candles.CSVPath(dir, "BTCUSDT", tf)
	require.NoError(t, os.WriteFile(existing, []byte("open_time\n"), 0o644))

	f := &stubFetcher{err: errors.New("should not be called")}
	d := NewKlineDownloader(candles.NewSource(f, zap.NewNop()), nil)

	path, err := d.DownloadKlines(context.Background(), candles.Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 10}, dir)
	require.NoError(t, err)
	assert.Equal(t, existing, path)
	assert.Zero(t, f.calls)
}

func TestDownloadKlines_NoRowsIsError(t *testing.T) {
	dir := t.TempDir()
	d := NewKlineDownloader(candles.NewSource(&stubFetcher{}, zap.NewNop()), zap.NewNop())

	_, err := d.DownloadKlines(context.Background(), candles.Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 10}, dir)
	assert.Error(t, err)
	_, statErr := os.Stat(candles.CSVPath(dir, "BTCUSDT", candles.Timeframe{Key: "5m"}))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadKlines_FetchErrorPropagates(t *testing.T) {
	d := NewKlineDownloader(candles.NewSource(&stubFetcher{err: errors.New("418")}, zap.NewNop()), zap.NewNop())
	_, err := d.DownloadKlines(context.Background(), candles.Request{Instrument: "BTCUSDT", Granularity: "5m", Count: 10}, t.TempDir())
	assert.ErrorIs(t, err, candles.ErrFetch)
}
