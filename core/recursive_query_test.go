package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterSeries computes value(k) = value(k-1ms) + 1 on a millisecond grid.
type counterSeries struct {
	cache   *HistoricalCache[float64]
	query   *RecursiveQuery[float64]
	mutex   sync.Mutex
	initial []int64
}

func newCounterSeries(t *testing.T, config RecursiveQueryConfig[float64]) *counterSeries {
	t.Helper()
	series := &counterSeries{}
	loader := func(ctx context.Context, key TimeKey) (*Entry[float64], error) {
		previous, err := series.query.GetPreviousValue(ctx, key, key.Add(-time.Millisecond))
		if err != nil {
			return nil, err
		}
		return NewEntry(key, previous+1), nil
	}
	cache, err := NewHistoricalCache("counter", loader, NewIntervalCalendar(time.Millisecond), testConfig())
	require.NoError(t, err)

	config.InitialValue = func(previousKey TimeKey) float64 {
		series.mutex.Lock()
		defer series.mutex.Unlock()
		series.initial = append(series.initial, previousKey.Millis())
		return 0
	}
	series.cache = cache
	series.query, err = cache.NewRecursiveQuery(config)
	require.NoError(t, err)
	return series
}

func intPtr(v int) *int {
	return &v
}

func TestRecursiveQuery_Terminates(t *testing.T) {
	ctx := context.Background()
	for _, config := range []RecursiveQueryConfig[float64]{
		{RecursionCount: 5},
		{RecursionCount: 5, UnstableRecursionCount: intPtr(0)},
	} {
		series := newCounterSeries(t, config)
		value, err := series.query.GetPreviousValue(ctx, NewTimeKey(10), NewTimeKey(9))
		require.NoError(t, err)
		assert.Equal(t, 5.0, value, "strategy %s", series.query.Strategy())
		assert.Equal(t, []int64{4}, series.initial, "strategy %s", series.query.Strategy())
	}
}

func TestRecursiveQuery_ContinuousReusesAnchors(t *testing.T) {
	ctx := context.Background()
	series := newCounterSeries(t, RecursiveQueryConfig[float64]{RecursionCount: 5})
	assert.Equal(t, ContinuousRecursion, series.query.Strategy())
	assert.Equal(t, 2, series.query.UnstablePeriod())

	_, err := series.query.GetPreviousValue(ctx, NewTimeKey(10), NewTimeKey(9))
	require.NoError(t, err)
	assert.True(t, series.cache.Values().ContainsKey(NewTimeKey(9)))

	// cached
	value, err := series.query.GetPreviousValue(ctx, NewTimeKey(10), NewTimeKey(9))
	require.NoError(t, err)
	assert.Equal(t, 5.0, value)

	// walks back to the cached value at 8 and computes forward from there
	value, err = series.query.GetPreviousValue(ctx, NewTimeKey(11), NewTimeKey(10))
	require.NoError(t, err)
	assert.Equal(t, 6.0, value)
	assert.Len(t, series.initial, 1)

	series.query.Clear()
	assert.False(t, series.cache.Values().ContainsKey(NewTimeKey(9)))
	assert.False(t, series.cache.Values().ContainsKey(NewTimeKey(10)))
}

func TestRecursiveQuery_UnstableRecomputes(t *testing.T) {
	ctx := context.Background()
	series := newCounterSeries(t, RecursiveQueryConfig[float64]{
		RecursionCount:         5,
		UnstableRecursionCount: intPtr(3),
	})
	count, unstable := series.query.UnstableRecursionCount()
	assert.True(t, unstable)
	assert.Equal(t, 3, count)

	for i := 0; i < 2; i++ {
		value, err := series.query.GetPreviousValue(ctx, NewTimeKey(10), NewTimeKey(9))
		require.NoError(t, err)
		assert.Equal(t, 8.0, value)
	}
	assert.Equal(t, []int64{1, 1}, series.initial)
	assert.False(t, series.cache.Values().ContainsKey(NewTimeKey(9)))
}

func TestRecursiveQuery_RecursionFrom(t *testing.T) {
	from := NewTimeKey(7)
	series := newCounterSeries(t, RecursiveQueryConfig[float64]{RecursionCount: 5, RecursionFrom: &from})

	value, err := series.query.GetPreviousValue(context.Background(), NewTimeKey(10), NewTimeKey(9))
	require.NoError(t, err)
	assert.Equal(t, 3.0, value)
	assert.Equal(t, []int64{6}, series.initial)
}

func TestRecursiveQuery_PreviousKeyNotBeforeKey(t *testing.T) {
	series := newCounterSeries(t, RecursiveQueryConfig[float64]{RecursionCount: 3, PreferInitialValue: true})
	assert.Equal(t, 0, series.query.UnstablePeriod())

	value, err := series.query.GetPreviousValue(context.Background(), NewTimeKey(5), NewTimeKey(5))
	require.NoError(t, err)
	assert.Equal(t, 0.0, value)
	assert.Equal(t, []int64{5}, series.initial)
}

func TestRecursiveQuery_ThroughCache(t *testing.T) {
	series := newCounterSeries(t, RecursiveQueryConfig[float64]{RecursionCount: 4})

	entry, err := series.cache.Get(context.Background(), NewTimeKey(20))
	require.NoError(t, err)
	assert.Equal(t, 5.0, entry.Value())
	assert.Equal(t, []int64{15}, series.initial)
}

func TestNewRecursiveQuery_Invalid(t *testing.T) {
	cache := newFloorCache(t, newFakeSeries(1, 2, 3), testConfig())
	initial := func(TimeKey) float64 { return 0 }

	for _, config := range []RecursiveQueryConfig[float64]{
		{RecursionCount: 0, InitialValue: initial},
		{RecursionCount: 3, UnstableRecursionCount: intPtr(-1), InitialValue: initial},
		{RecursionCount: 3},
	} {
		_, err := cache.NewRecursiveQuery(config)
		assert.ErrorIs(t, err, ErrInvalidRecursionCount)
	}
}
