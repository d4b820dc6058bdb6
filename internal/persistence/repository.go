package persistence

import "bb-rsi-backtest-go/internal/models"

// CandleCache defines the interface for caching merged candle series.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the candle source.
type CandleCache interface {
	// Get returns the cached series for key. ok is false when nothing is stored.
	Get(key string) (candles []models.Candle, ok bool, err error)

	// Put atomically stores the series under key, replacing any previous value.
	Put(key string, candles []models.Candle) error

	// Close gracefully closes the connection to the database.
	Close() error
}

// ResultRepository persists finished backtest runs so they can be fetched by ID.
type ResultRepository interface {
	SaveResult(res *models.RunResult) error
	LoadResult(id string) (res *models.RunResult, ok bool, err error)
}

var (
	_ CandleCache      = (*BadgerStore)(nil)
	_ ResultRepository = (*BadgerStore)(nil)
)
