package persistence

import (
	"bb-rsi-backtest-go/internal/models"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const (
	candlePrefix = "candles/"
	runPrefix    = "runs/"
)

// BadgerStore is the BadgerDB implementation of CandleCache and ResultRepository.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerStore opens (or creates) a BadgerDB database at dbPath.
// Cached candles expire after ttl; a zero ttl keeps them forever. Run results never expire.
func NewBadgerStore(dbPath string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep our app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil
	return open(opts, ttl)
}

// NewInMemoryStore returns a BadgerDB store that never touches disk.
func NewInMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, 0)
}

func open(opts badger.Options, ttl time.Duration) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

// Put marshals the series into JSON and stores it under the prefixed key.
func (s *BadgerStore) Put(key string, candles []models.Candle) error {
	return s.save(candlePrefix+key, candles, s.ttl)
}

// Get loads a series. A missing key is reported as ok=false with a nil error.
func (s *BadgerStore) Get(key string) ([]models.Candle, bool, error) {
	var candles []models.Candle
	ok, err := s.load(candlePrefix+key, &candles)
	if !ok || err != nil {
		return nil, false, err
	}
	return candles, true, nil
}

// SaveResult stores a finished run under its ID.
func (s *BadgerStore) SaveResult(res *models.RunResult) error {
	if res == nil || res.ID == "" {
		return errors.New("run result has no id")
	}
	return s.save(runPrefix+res.ID, res, 0)
}

// LoadResult retrieves a run by ID. A missing run is reported as ok=false with a nil error.
func (s *BadgerStore) LoadResult(id string) (*models.RunResult, bool, error) {
	res := &models.RunResult{}
	ok, err := s.load(runPrefix+id, res)
	if !ok || err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (s *BadgerStore) save(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) load(key string, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("stored value is empty")
			}
			return json.Unmarshal(val, v)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close gracefully closes the connection to the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
