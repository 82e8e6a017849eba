package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain returns a collector for iterator results, usable as drain(t)(f()).
func drain(t *testing.T) func(EntryIterator[float64], error) []int64 {
	return func(iter EntryIterator[float64], err error) []int64 {
		t.Helper()
		require.NoError(t, err)
		entries, err := Collect(iter)
		require.NoError(t, err)
		return keysOf(entries)
	}
}

func TestQueryCore_PreviousRoundTrip(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	core := newFloorCache(t, series, testConfig()).NewQueryCore()

	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(100), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(70), entry.Key().Millis())

	// between keys the anchor is the floor entry
	entry, err = core.GetPreviousEntry(ctx, NewTimeKey(95), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(80), entry.Key().Millis())

	keys := drain(t)(core.GetPreviousEntries(ctx, NewTimeKey(100), 4))
	if diff := cmp.Diff([]int64{70, 80, 90, 100}, keys); diff != "" {
		t.Fatalf("previous entries mismatch (-want +got):\n%s", diff)
	}

	// past the start of history
	entry, err = core.GetPreviousEntry(ctx, NewTimeKey(20), 5)
	require.NoError(t, err)
	assert.Nil(t, entry)

	keys = drain(t)(core.GetPreviousEntries(ctx, NewTimeKey(20), 5))
	assert.Equal(t, []int64{0, 10, 20}, keys)

	keys = drain(t)(core.GetPreviousEntries(ctx, NewTimeKey(20), 0))
	assert.Empty(t, keys)

	_, err = core.GetPreviousEntry(ctx, NewTimeKey(20), -1)
	assert.ErrorIs(t, err, ErrInvalidShiftUnits)
}

func TestQueryCore_NothingBeforeFirstKey(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(10, 50, 10)...)
	core := newFloorCache(t, series, testConfig()).NewQueryCore()

	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(5), 0)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = core.Get(ctx, NewTimeKey(5))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestQueryCore_BackwardScanGrowsReadBack(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	cache := newFloorCache(t, series, testConfig())
	core := cache.NewQueryCore()

	for key := int64(100); key >= 0; key -= 10 {
		entry, err := core.GetPreviousEntry(ctx, NewTimeKey(key), 0)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, key, entry.Key().Millis())
	}

	// the second miss reads back far enough to reach the start of history
	assert.Equal(t, 2, core.Stats().WindowMisses)
	assert.Equal(t, 200*time.Millisecond, cache.OptimalReadBackDuration())
	low, high, ok := cache.BurstRange()
	assert.True(t, ok)
	assert.Equal(t, int64(90), low.Millis())
	assert.Equal(t, int64(100), high.Millis())

	// repeated lookups at the start of history stay inside the window
	for i := 0; i < 3; i++ {
		_, err := core.GetPreviousEntry(ctx, NewTimeKey(0), 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, core.Stats().WindowMisses)
}

func TestQueryCore_ForwardScanAppends(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	core := newFloorCache(t, series, testConfig()).NewQueryCore()

	for key := int64(0); key <= 100; key += 10 {
		entry, err := core.GetPreviousEntry(ctx, NewTimeKey(key), 0)
		require.NoError(t, err)
		assert.Equal(t, key, entry.Key().Millis())
	}
	stats := core.Stats()
	assert.Equal(t, 1, stats.WindowMisses)
	assert.Equal(t, 10, stats.Appends)
	assert.Equal(t, 11, core.WindowLen())

	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(100), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Key().Millis())
	assert.Greater(t, core.Stats().IndexHits, 0)
}

func TestQueryCore_StaleIndexAfterPrepend(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	core := newFloorCache(t, series, testConfig()).NewQueryCore()

	_, err := core.GetPreviousEntry(ctx, NewTimeKey(50), 0)
	require.NoError(t, err)
	_, err = core.GetPreviousEntry(ctx, NewTimeKey(60), 0)
	require.NoError(t, err)
	before := core.Generation()

	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(60), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(30), entry.Key().Millis())
	assert.Greater(t, core.Generation(), before)

	// 50 still carries its position from the old generation
	entry, err = core.GetPreviousEntry(ctx, NewTimeKey(50), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), entry.Key().Millis())

	index, ok := entry.Key().GetIndex(core.Owner())
	require.True(t, ok)
	assert.Equal(t, QueryCoreIndex{Generation: core.Generation(), Cursor: 2}, index)
}

func TestQueryCore_SharedCacheSeparateCores(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	cache := newFloorCache(t, series, testConfig())
	first, second := cache.NewQueryCore(), cache.NewQueryCore()
	assert.NotEqual(t, first.Owner(), second.Owner())

	a, err := first.GetPreviousEntry(ctx, NewTimeKey(100), 2)
	require.NoError(t, err)
	b, err := second.GetPreviousEntry(ctx, NewTimeKey(100), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(80), a.Key().Millis())
	assert.Equal(t, int64(50), b.Key().Millis())

	a, err = first.GetPreviousEntry(ctx, NewTimeKey(100), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(90), a.Key().Millis())

	// the second core read back to the start, every key was loaded once
	assert.Equal(t, int64(11), series.loads.Load())
}

func TestQueryCore_MaxWindowSize(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 200, 10)...)
	config := testConfig()
	config.MaxWindowSize = 8
	core := newFloorCache(t, series, config).NewQueryCore()

	for key := int64(0); key <= 200; key += 10 {
		_, err := core.GetPreviousEntry(ctx, NewTimeKey(key), 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, core.WindowLen(), 8)
	}
	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(200), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(170), entry.Key().Millis())
}

func TestQueryCore_ShiftBeyondMaxWindowSize(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	config := testConfig()
	config.MaxWindowSize = 4
	core := newFloorCache(t, series, config).NewQueryCore()

	for key := int64(50); key <= 80; key += 10 {
		_, err := core.GetPreviousEntry(ctx, NewTimeKey(key), 0)
		require.NoError(t, err)
	}
	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(80), 5)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(30), entry.Key().Millis())

	// a cold core reaches past the cap as well
	cold := newFloorCache(t, newFakeSeries(steppedKeys(0, 100, 10)...), config).NewQueryCore()
	entry, err = cold.GetPreviousEntry(ctx, NewTimeKey(100), 7)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(30), entry.Key().Millis())

	// forward steps trim the window back under the cap
	for key := int64(90); key <= 100; key += 10 {
		_, err := core.GetPreviousEntry(ctx, NewTimeKey(key), 0)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, core.WindowLen(), 4)
}

func TestQueryCore_JoinedWindowExtendsBackward(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	core := newFloorCache(t, series, testConfig()).NewQueryCore()

	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(50), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), entry.Key().Millis())

	// 70 joins the window at 50, which is still one entry short
	entry, err = core.GetPreviousEntry(ctx, NewTimeKey(70), 3)
	require.NoError(t, err)
	require.NotNil(t, entry, "70 shifted back 3 should be 40")
	assert.Equal(t, int64(40), entry.Key().Millis())

	keys := drain(t)(core.GetPreviousEntries(ctx, NewTimeKey(70), 4))
	assert.Equal(t, []int64{40, 50, 60, 70}, keys)
}

func TestQueryCore_NextEntryLoop(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(10, 20, 20, 20, 30)

	ceiling, err := NewHistoricalCache("ceiling", series.ceilingLoader, NewIntervalCalendar(5*time.Millisecond), testConfig())
	require.NoError(t, err)
	core := ceiling.NewQueryCore()

	entry, err := core.GetNextEntry(ctx, NewTimeKey(10), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), entry.Key().Millis())

	// the duplicate run counts as one step and resolves to its last value
	entry, err = core.GetNextEntry(ctx, NewTimeKey(10), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), entry.Key().Millis())
	assert.Equal(t, 20.03, entry.Value())

	entry, err = core.GetNextEntry(ctx, NewTimeKey(10), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(30), entry.Key().Millis())

	entry, err = core.GetNextEntry(ctx, NewTimeKey(10), 3)
	require.NoError(t, err)
	assert.Nil(t, entry)

	keys := drain(t)(core.GetNextEntries(ctx, NewTimeKey(10), 10))
	assert.Equal(t, []int64{10, 20, 30}, keys)
	keys = drain(t)(core.GetNextEntries(ctx, NewTimeKey(10), 2))
	assert.Equal(t, []int64{10, 20}, keys)
}

func TestQueryCore_NextEntryLoopFreezesOnRepeatedKey(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(10, 20, 20, 20, 30)

	floor, err := NewHistoricalCache("floor", series.floorLoader, NewIntervalCalendar(5*time.Millisecond), testConfig())
	require.NoError(t, err)
	core := floor.NewQueryCore()

	// 15 resolves back to 10, so the walk stops moving
	for _, units := range []int{1, 2, 3} {
		entry, err := core.GetNextEntry(ctx, NewTimeKey(10), units)
		require.NoError(t, err)
		assert.Equal(t, int64(10), entry.Key().Millis(), "units %d", units)
	}

	keys := drain(t)(core.GetNextEntries(ctx, NewTimeKey(10), 5))
	assert.Equal(t, []int64{10}, keys)
}

func TestQueryCore_NextEntryFromRangeSource(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(10, 20, 20, 20, 30)
	cache := newFloorCache(t, series, testConfig()).SetRangeSource(series)
	core := cache.NewQueryCore()

	for units, want := range []float64{10.0, 20.03, 30.04} {
		entry, err := core.GetNextEntry(ctx, NewTimeKey(10), units)
		require.NoError(t, err)
		assert.Equal(t, want, entry.Value())
	}
	entry, err := core.GetNextEntry(ctx, NewTimeKey(10), 3)
	require.NoError(t, err)
	assert.Nil(t, entry)

	// results are installed under their own keys
	cached, ok := cache.Values().GetIfPresent(NewTimeKey(20))
	assert.True(t, ok)
	assert.Equal(t, 20.03, cached.Value())

	keys := drain(t)(core.GetNextEntries(ctx, NewTimeKey(15), 10))
	assert.Equal(t, []int64{20, 30}, keys)

	_, err = core.GetNextEntry(ctx, NewTimeKey(10), -1)
	assert.ErrorIs(t, err, ErrInvalidShiftUnits)
}

func TestQueryCore_LoaderError(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	series.fail(70, errBoom)
	core := newFloorCache(t, series, testConfig()).NewQueryCore()

	_, err := core.GetPreviousEntry(ctx, NewTimeKey(100), 5)
	assert.ErrorIs(t, err, errBoom)

	_, err = core.GetNextEntry(ctx, NewTimeKey(70), 0)
	assert.ErrorIs(t, err, errBoom)

	_, err = core.Get(ctx, NewTimeKey(70))
	assert.ErrorIs(t, err, errBoom)
}

func TestHistoricalCache_RejectsFutureEntries(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(10, 20, 30)
	cache, err := NewHistoricalCache("ceiling", series.ceilingLoader, sliceCalendar(series.distinctKeys()), testConfig())
	require.NoError(t, err)

	entry, err := cache.Get(ctx, NewTimeKey(15))
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = cache.Get(ctx, NewTimeKey(20))
	require.NoError(t, err)
	assert.Equal(t, int64(20), entry.Key().Millis())
}

func TestHistoricalCache_AssertValue(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(10, 20, 30)
	cache := newFloorCache(t, series, testConfig())
	cache.SetAssertValue(func(key TimeKey, entry *Entry[float64]) bool {
		return entry.Key().Equal(key)
	})

	entry, err := cache.Get(ctx, NewTimeKey(25))
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = cache.Get(ctx, NewTimeKey(20))
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestNewHistoricalCache_NoLoader(t *testing.T) {
	_, err := NewHistoricalCache[float64]("empty", nil, NewIntervalCalendar(time.Second), testConfig())
	assert.ErrorIs(t, err, ErrNoLoader)
}

func TestQueryCore_Clear(t *testing.T) {
	ctx := context.Background()
	series := newFakeSeries(steppedKeys(0, 100, 10)...)
	core := newFloorCache(t, series, testConfig()).NewQueryCore()

	_, err := core.GetPreviousEntry(ctx, NewTimeKey(100), 3)
	require.NoError(t, err)
	generation := core.Generation()

	core.Clear()
	assert.Equal(t, 0, core.WindowLen())
	assert.Greater(t, core.Generation(), generation)
	assert.Equal(t, QueryCoreStats{}, core.Stats())

	entry, err := core.GetPreviousEntry(ctx, NewTimeKey(100), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(70), entry.Key().Millis())
}
