package core

import (
	"errors"
	"fmt"
	"sync"

	"histcache/storage"
)

var ErrSeriesNotFound = errors.New("series not found")

// Series is one stored float64 series with the cache serving it.
type Series struct {
	id    int64
	store *BackingStore[float64]
	cache *HistoricalCache[float64]
}

func (series *Series) ID() int64 {
	return series.id
}

func (series *Series) Store() *BackingStore[float64] {
	return series.store
}

func (series *Series) Cache() *HistoricalCache[float64] {
	return series.cache
}

// Append stores a sample. Query cores rebuild windows the new timestamp
// falls into; floor lookups cached for keys after it may still resolve to
// the older sample until a high-water mark or an explicit clear drops them.
func (series *Series) Append(timestamp int64, value float64) error {
	return series.store.Append(timestamp, value)
}

// DB is a registry of stored series sharing one backend.
type DB struct {
	backend storage.Backend
	config  StoreConfig
	series  map[int64]*Series
	mu      sync.Mutex
}

// New opens a badger-backed DB at path. An empty path keeps everything in
// memory.
func New(path string, config StoreConfig) (*DB, error) {
	badgerDb, err := storage.OpenBadgerDB(path)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(storage.NewBadgerBackend(badgerDb), config), nil
}

func NewWithBackend(backend storage.Backend, config StoreConfig) *DB {
	return &DB{
		backend: backend,
		config:  config,
		series:  make(map[int64]*Series),
	}
}

func (db *DB) Backend() storage.Backend {
	return db.backend
}

// OpenSeries returns the series, creating its cache on first use.
func (db *DB) OpenSeries(seriesID int64) (*Series, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if series, ok := db.series[seriesID]; ok {
		return series, nil
	}

	store, err := NewBackingStore[float64](db.backend, storage.Float64Codec{}, seriesID, true)
	if err != nil {
		return nil, err
	}
	cache, err := NewStoredCache(fmt.Sprintf("series-%d", seriesID), store, db.config)
	if err != nil {
		store.Close()
		return nil, err
	}

	series := &Series{id: seriesID, store: store, cache: cache}
	db.series[seriesID] = series
	return series, nil
}

func (db *DB) GetSeries(seriesID int64) (*Series, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	series, ok := db.series[seriesID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSeriesNotFound, seriesID)
	}
	return series, nil
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, series := range db.series {
		series.cache.Close()
		series.store.Close()
	}
	db.series = nil
	return db.backend.Close()
}
