package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RangeSource streams raw entries in ascending key order starting at the
// first entry not before from. Duplicate keys may appear.
type RangeSource[V any] interface {
	Entries(ctx context.Context, from TimeKey) (EntryIterator[V], error)
}

// AssertValueFunc may reject a loaded entry for the requested key.
type AssertValueFunc[V any] func(key TimeKey, entry *Entry[V]) bool

// HistoricalCache owns the shared values map of one series together with
// its calendar and gap statistics. Query cores and recursive queries are
// created from it.
type HistoricalCache[V any] struct {
	name     string
	config   StoreConfig
	loader   Loader[V]
	values   *LoadingValuesMap[V]
	calendar Calendar
	source   RangeSource[V]
	assert   AssertValueFunc[V]
	// moves whenever the loader's key set changes
	version func() uint64

	gapMutex sync.Mutex
	gapMiss  *GapMissCounter

	owners atomic.Uint32
	logger zerolog.Logger
}

func NewHistoricalCache[V any](name string, loader Loader[V], calendar Calendar, config StoreConfig) (*HistoricalCache[V], error) {
	if loader == nil {
		return nil, ErrNoLoader
	}
	logger := config.Logger.With().Str("cache", name).Logger()
	if config.Diagnostics == nil {
		config.Diagnostics = NewLogDiagnosticsSink(name, logger)
	}

	values, err := NewValuesMap(name, loader, config)
	if err != nil {
		return nil, fmt.Errorf("creating values map for %s: %w", name, err)
	}

	cache := &HistoricalCache[V]{
		name:     name,
		config:   config,
		loader:   loader,
		values:   values,
		calendar: calendar,
		logger:   logger,
	}
	cache.gapMiss = NewGapMissCounter(config.GapMiss, config.Diagnostics)
	cache.gapMiss.OnCapacityHint(values.MaximumSize())
	cache.gapMiss.SetOnMaximumSizeChange(values.SetMaximumSize)
	return cache, nil
}

func (cache *HistoricalCache[V]) SetRangeSource(source RangeSource[V]) *HistoricalCache[V] {
	cache.source = source
	return cache
}

// SetVersionSource lets query cores notice keys added or removed behind
// their windows.
func (cache *HistoricalCache[V]) SetVersionSource(version func() uint64) *HistoricalCache[V] {
	cache.version = version
	return cache
}

func (cache *HistoricalCache[V]) SetAssertValue(assert AssertValueFunc[V]) *HistoricalCache[V] {
	cache.assert = assert
	return cache
}

// SetHighWaterMark registers a listener that evicts provisional values when
// the mark advances.
func (cache *HistoricalCache[V]) SetHighWaterMark(provider HighWaterMarkFunc) *HighWaterMarkListener[V] {
	listener := NewHighWaterMarkListener[V](cache.name, cache.values, provider, cache.logger)
	cache.values.AddListener(listener)
	return listener
}

func (cache *HistoricalCache[V]) Name() string {
	return cache.name
}

func (cache *HistoricalCache[V]) Values() *LoadingValuesMap[V] {
	return cache.values
}

func (cache *HistoricalCache[V]) Calendar() Calendar {
	return cache.calendar
}

func (cache *HistoricalCache[V]) nextOwnerID() OwnerID {
	for {
		if id := OwnerID(cache.owners.Add(1)); id != 0 {
			return id
		}
	}
}

func (cache *HistoricalCache[V]) NewQueryCore() *QueryCore[V] {
	return newQueryCore(cache, cache.nextOwnerID())
}

// Get returns the entry at or before key. Entries after key are never
// returned.
func (cache *HistoricalCache[V]) Get(ctx context.Context, key TimeKey) (*Entry[V], error) {
	return cache.getWithoutFuture(ctx, key)
}

// Clear drops every cached value.
func (cache *HistoricalCache[V]) Clear() {
	cache.values.Clear()
}

func (cache *HistoricalCache[V]) Close() {
	cache.values.Close()
}

func (cache *HistoricalCache[V]) load(ctx context.Context, key TimeKey) (*Entry[V], error) {
	entry, err := cache.values.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading %s at %s: %w", cache.name, key, err)
	}
	return entry, nil
}

func (cache *HistoricalCache[V]) assertValue(key TimeKey, entry *Entry[V]) *Entry[V] {
	if entry == nil {
		return nil
	}
	if cache.assert != nil && !cache.assert(key, entry) {
		return nil
	}
	return entry
}

func (cache *HistoricalCache[V]) getWithoutFuture(ctx context.Context, key TimeKey) (*Entry[V], error) {
	entry, err := cache.load(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Key().After(key) {
		return nil, nil
	}
	return cache.assertValue(key, entry), nil
}

// getWithFuture accepts entries whose key lies after the requested key.
func (cache *HistoricalCache[V]) getWithFuture(ctx context.Context, key TimeKey) (*Entry[V], error) {
	entry, err := cache.load(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	return cache.assertValue(key, entry), nil
}

// compute calls the loader directly, bypassing the values map.
func (cache *HistoricalCache[V]) compute(ctx context.Context, key TimeKey) (*Entry[V], error) {
	entry, err := cache.loader(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("computing %s at %s: %w", cache.name, key, err)
	}
	return entry, nil
}

// install puts an entry found outside the values map under its own key,
// keeping an already cached entry so that its memoized indexes survive.
func (cache *HistoricalCache[V]) install(entry *Entry[V]) *Entry[V] {
	if existing, ok := cache.values.GetIfPresent(entry.Key()); ok && existing != nil && existing.Key().Equal(entry.Key()) {
		return existing
	}
	cache.values.Put(entry.Key(), entry)
	return entry
}

func (cache *HistoricalCache[V]) onMiss(ctx context.Context, key TimeKey) time.Duration {
	recordWindowMiss(ctx, cache.name)
	cache.gapMutex.Lock()
	defer cache.gapMutex.Unlock()
	cache.gapMiss.OnMiss(key)
	return cache.gapMiss.OptimalReadBackDuration()
}

func (cache *HistoricalCache[V]) recordElementDistance(previous, next TimeKey) {
	cache.gapMutex.Lock()
	defer cache.gapMutex.Unlock()
	cache.gapMiss.RecordElementDistance(previous, next)
}

func (cache *HistoricalCache[V]) OptimalReadBackDuration() time.Duration {
	cache.gapMutex.Lock()
	defer cache.gapMutex.Unlock()
	return cache.gapMiss.OptimalReadBackDuration()
}

func (cache *HistoricalCache[V]) OptimalMaximumSize() int {
	cache.gapMutex.Lock()
	defer cache.gapMutex.Unlock()
	return cache.gapMiss.OptimalMaximumSize()
}

func (cache *HistoricalCache[V]) BurstRange() (TimeKey, TimeKey, bool) {
	cache.gapMutex.Lock()
	defer cache.gapMutex.Unlock()
	return cache.gapMiss.BurstRange()
}
