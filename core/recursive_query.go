package core

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

type RecursionStrategy int

const (
	// ContinuousRecursion trusts values already cached by the owning cache.
	ContinuousRecursion RecursionStrategy = iota
	// UnstableRecursion recomputes the whole lookback on every cold call.
	UnstableRecursion
)

func (strategy RecursionStrategy) String() string {
	if strategy == UnstableRecursion {
		return "unstable"
	}
	return "continuous"
}

// InitialValueFunc seeds a recursion that has run out of history.
type InitialValueFunc[V any] func(previousKey TimeKey) V

type RecursiveQueryConfig[V any] struct {
	RecursionCount int
	// A non-nil count selects the unstable strategy.
	UnstableRecursionCount *int
	// RecursionFrom is the earliest key the walk back may reach.
	RecursionFrom *TimeKey
	// PreferInitialValue disables the unstable period of the continuous
	// strategy, so any cached anchor is trusted.
	PreferInitialValue bool
	InitialValue       InitialValueFunc[V]
}

// RecursiveQuery resolves previous values of a series whose loader depends
// on its own earlier values, computing at most a bounded number of steps.
//
// A cold lookup walks back through the calendar, then computes forward from
// the oldest key with the raw loader. The values computed so far travel in
// the context, so nested lookups made by the loader are answered from them;
// a nested lookup that cannot be answered resolves to the initial value.
type RecursiveQuery[V any] struct {
	cache          *HistoricalCache[V]
	owner          OwnerID
	strategy       RecursionStrategy
	recursionCount int
	unstableCount  int
	unstablePeriod int
	recursionFrom  *TimeKey
	initialValue   InitialValueFunc[V]
	installed      *xsync.MapOf[int64, TimeKey]
}

type recursionFrameKey struct {
	owner OwnerID
}

// recursionFrame maps key millis to computed values. A frame belongs to one
// top-level call and is never shared between goroutines.
type recursionFrame[V any] map[int64]V

func (cache *HistoricalCache[V]) NewRecursiveQuery(config RecursiveQueryConfig[V]) (*RecursiveQuery[V], error) {
	if config.RecursionCount < 1 {
		return nil, fmt.Errorf("%w: recursion count %d", ErrInvalidRecursionCount, config.RecursionCount)
	}
	if config.InitialValue == nil {
		return nil, fmt.Errorf("%w: missing initial value", ErrInvalidRecursionCount)
	}

	query := &RecursiveQuery[V]{
		cache:          cache,
		owner:          cache.nextOwnerID(),
		strategy:       ContinuousRecursion,
		recursionCount: config.RecursionCount,
		recursionFrom:  config.RecursionFrom,
		initialValue:   config.InitialValue,
		installed:      xsync.NewMapOf[int64, TimeKey](),
	}
	if config.UnstableRecursionCount != nil {
		if *config.UnstableRecursionCount < 0 {
			return nil, fmt.Errorf("%w: unstable recursion count %d",
				ErrInvalidRecursionCount, *config.UnstableRecursionCount)
		}
		query.strategy = UnstableRecursion
		query.unstableCount = *config.UnstableRecursionCount
	}
	if !config.PreferInitialValue {
		query.unstablePeriod = config.RecursionCount / 2
		if query.unstablePeriod < 1 {
			query.unstablePeriod = 1
		}
	}
	return query, nil
}

func (query *RecursiveQuery[V]) Strategy() RecursionStrategy {
	return query.strategy
}

func (query *RecursiveQuery[V]) RecursionCount() int {
	return query.recursionCount
}

func (query *RecursiveQuery[V]) UnstableRecursionCount() (int, bool) {
	return query.unstableCount, query.strategy == UnstableRecursion
}

// UnstablePeriod is the number of steps next to the requested key where a
// cached anchor is not trusted.
func (query *RecursiveQuery[V]) UnstablePeriod() int {
	return query.unstablePeriod
}

// Clear invalidates every value this query installed into the cache.
func (query *RecursiveQuery[V]) Clear() {
	query.installed.Range(func(millis int64, key TimeKey) bool {
		query.cache.values.Invalidate(key)
		query.installed.Delete(millis)
		return true
	})
}

func (query *RecursiveQuery[V]) frame(ctx context.Context) (recursionFrame[V], bool) {
	frame, ok := ctx.Value(recursionFrameKey{owner: query.owner}).(recursionFrame[V])
	return frame, ok
}

func (query *RecursiveQuery[V]) fallback(ctx context.Context, previousKey TimeKey) V {
	recordInitialValue(ctx, query.cache.name)
	return query.initialValue(previousKey)
}

func (query *RecursiveQuery[V]) cached(key TimeKey) (V, bool) {
	entry, ok := query.cache.values.GetIfPresent(key)
	if !ok || entry == nil || !entry.Key().Equal(key) {
		var zero V
		return zero, false
	}
	return entry.Value(), true
}

// GetPreviousValue returns the value of the series at previousKey, as needed
// while computing the value at key.
func (query *RecursiveQuery[V]) GetPreviousValue(ctx context.Context, key, previousKey TimeKey) (V, error) {
	if !previousKey.Before(key) {
		return query.fallback(ctx, previousKey), nil
	}

	if frame, nested := query.frame(ctx); nested {
		if value, ok := frame[previousKey.Millis()]; ok {
			return value, nil
		}
		if query.strategy == ContinuousRecursion {
			if value, ok := query.cached(previousKey); ok {
				return value, nil
			}
		}
		return query.fallback(ctx, previousKey), nil
	}

	if query.strategy == ContinuousRecursion {
		if value, ok := query.cached(previousKey); ok {
			return value, nil
		}
	}
	return query.recompute(ctx, previousKey)
}

func (query *RecursiveQuery[V]) lookback() int {
	if query.strategy == UnstableRecursion {
		return query.recursionCount + query.unstableCount
	}
	return query.recursionCount
}

// walkBack collects previousKey and the keys before it, newest first. For
// the continuous strategy it stops early at a trusted cached anchor.
func (query *RecursiveQuery[V]) walkBack(previousKey TimeKey) ([]TimeKey, *Entry[V]) {
	keys := []TimeKey{previousKey}
	current := previousKey
	for len(keys) < query.lookback() {
		key, ok := query.cache.calendar.PreviousKey(current)
		if !ok || !key.Before(current) {
			break
		}
		if query.recursionFrom != nil && key.Before(*query.recursionFrom) {
			break
		}
		if query.strategy == ContinuousRecursion && len(keys) >= query.unstablePeriod {
			if value, ok := query.cached(key); ok {
				return keys, NewEntry(key, value)
			}
		}
		keys = append(keys, key)
		current = key
	}
	return keys, nil
}

func (query *RecursiveQuery[V]) recompute(ctx context.Context, previousKey TimeKey) (V, error) {
	keys, anchor := query.walkBack(previousKey)

	frame := make(recursionFrame[V], len(keys)+1)
	if anchor != nil {
		frame[anchor.Key().Millis()] = anchor.Value()
	}
	frameCtx := context.WithValue(ctx, recursionFrameKey{owner: query.owner}, frame)

	for i := len(keys) - 1; i >= 0; i-- {
		entry, err := query.cache.compute(frameCtx, keys[i])
		if err != nil {
			var zero V
			return zero, err
		}
		if entry == nil {
			continue
		}
		frame[keys[i].Millis()] = entry.Value()
		if query.strategy == ContinuousRecursion {
			query.cache.values.Put(keys[i], entry)
			query.installed.Store(keys[i].Millis(), keys[i])
		}
	}

	if value, ok := frame[previousKey.Millis()]; ok {
		return value, nil
	}
	return query.fallback(ctx, previousKey), nil
}
