package core

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeSeries is a sorted in-memory series that counts its loads.
type fakeSeries struct {
	entries []*Entry[float64]
	loads   atomic.Int64
	failAt  map[int64]error
}

func newFakeSeries(keys ...int64) *fakeSeries {
	series := &fakeSeries{failAt: make(map[int64]error)}
	for i, key := range keys {
		// duplicates get distinct values so keep-first/keep-last is visible
		series.entries = append(series.entries, NewEntry(NewTimeKey(key), float64(key)+float64(i)/100))
	}
	return series
}

func steppedKeys(from, to, step int64) []int64 {
	keys := make([]int64, 0)
	for key := from; key <= to; key += step {
		keys = append(keys, key)
	}
	return keys
}

func (series *fakeSeries) fail(key int64, err error) {
	series.failAt[key] = err
}

// floorLoader returns the last entry at the greatest key <= key.
func (series *fakeSeries) floorLoader(ctx context.Context, key TimeKey) (*Entry[float64], error) {
	series.loads.Add(1)
	if err := series.failAt[key.Millis()]; err != nil {
		return nil, err
	}
	position := sort.Search(len(series.entries), func(i int) bool {
		return series.entries[i].Key().After(key)
	})
	if position == 0 {
		return nil, nil
	}
	return series.entries[position-1], nil
}

// ceilingLoader returns the last entry at the smallest key >= key.
func (series *fakeSeries) ceilingLoader(ctx context.Context, key TimeKey) (*Entry[float64], error) {
	series.loads.Add(1)
	if err := series.failAt[key.Millis()]; err != nil {
		return nil, err
	}
	position := sort.Search(len(series.entries), func(i int) bool {
		return !series.entries[i].Key().Before(key)
	})
	if position == len(series.entries) {
		return nil, nil
	}
	found := series.entries[position]
	for position+1 < len(series.entries) && series.entries[position+1].Key().Equal(found.Key()) {
		position++
	}
	return series.entries[position], nil
}

func (series *fakeSeries) Entries(ctx context.Context, from TimeKey) (EntryIterator[float64], error) {
	position := sort.Search(len(series.entries), func(i int) bool {
		return !series.entries[i].Key().Before(from)
	})
	return NewSliceIterator(series.entries[position:]), nil
}

func (series *fakeSeries) distinctKeys() []int64 {
	keys := make([]int64, 0, len(series.entries))
	for _, entry := range series.entries {
		if len(keys) == 0 || keys[len(keys)-1] != entry.Key().Millis() {
			keys = append(keys, entry.Key().Millis())
		}
	}
	return keys
}

// sliceCalendar steps over a fixed sorted key list.
type sliceCalendar []int64

func (calendar sliceCalendar) NextKey(key TimeKey) (TimeKey, bool) {
	position := sort.Search(len(calendar), func(i int) bool { return calendar[i] > key.Millis() })
	if position == len(calendar) {
		return TimeKey{}, false
	}
	return NewTimeKey(calendar[position]), true
}

func (calendar sliceCalendar) PreviousKey(key TimeKey) (TimeKey, bool) {
	position := sort.Search(len(calendar), func(i int) bool { return calendar[i] >= key.Millis() })
	if position == 0 {
		return TimeKey{}, false
	}
	return NewTimeKey(calendar[position-1]), true
}

func testConfig() StoreConfig {
	config := DefaultStoreConfig()
	config.ValuesMap = Unbounded
	config.Logger = zerolog.Nop()
	config.Refresh = NewRefreshManager(time.Now)
	return config
}

func newFloorCache(t *testing.T, series *fakeSeries, config StoreConfig) *HistoricalCache[float64] {
	t.Helper()
	cache, err := NewHistoricalCache("test", series.floorLoader, sliceCalendar(series.distinctKeys()), config)
	require.NoError(t, err)
	return cache
}

func keysOf(entries []*Entry[float64]) []int64 {
	keys := make([]int64, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key().Millis()
	}
	return keys
}

// recordingSink keeps every reoptimization event.
type recordingSink struct {
	events []ReoptimizationEvent
}

func (sink *recordingSink) OnReoptimization(event ReoptimizationEvent) {
	sink.events = append(sink.events, event)
}
