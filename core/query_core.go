package core

import (
	"context"
	"fmt"
	"sort"
)

// QueryCoreStats counts how previous lookups were resolved.
type QueryCoreStats struct {
	IndexHits    int
	SearchHits   int
	Appends      int
	WindowMisses int
	Resets       int
}

// QueryCore answers positional queries against its cache. Previous lookups
// run against a window of contiguous entries whose positions are memoized
// on the entry keys. A QueryCore is meant for one goroutine; several cores
// may share one cache.
type QueryCore[V any] struct {
	cache      *HistoricalCache[V]
	owner      OwnerID
	window     []*Entry[V]
	generation uint64
	// the first window entry is the first entry of the series
	complete bool
	// source version the window was last checked against
	version uint64
	stats   QueryCoreStats
}

func newQueryCore[V any](cache *HistoricalCache[V], owner OwnerID) *QueryCore[V] {
	return &QueryCore[V]{
		cache:      cache,
		owner:      owner,
		generation: 1,
	}
}

func (core *QueryCore[V]) Owner() OwnerID {
	return core.owner
}

// Generation changes on every reset, prepend or trim of the window.
func (core *QueryCore[V]) Generation() uint64 {
	return core.generation
}

func (core *QueryCore[V]) Stats() QueryCoreStats {
	return core.stats
}

func (core *QueryCore[V]) WindowLen() int {
	return len(core.window)
}

// Get returns the entry at or before key.
func (core *QueryCore[V]) Get(ctx context.Context, key TimeKey) (*Entry[V], error) {
	return core.cache.getWithoutFuture(ctx, key)
}

// GetNextEntry returns the entry shiftUnits steps after key; zero units
// gives the entry at key.
func (core *QueryCore[V]) GetNextEntry(ctx context.Context, key TimeKey, shiftUnits int) (*Entry[V], error) {
	if shiftUnits < 0 {
		return nil, ErrInvalidShiftUnits
	}
	if core.cache.source == nil {
		return getNextEntryQueryLoop(ctx, core.cache, key, shiftUnits)
	}

	raw, err := core.cache.source.Entries(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", core.cache.name, key, err)
	}
	iter, err := NewShiftForwardLoopIterator[V](NewSkipDuplicateKeysIterator(raw, DefaultKeepLastDuplicate), key, shiftUnits)
	if err != nil {
		raw.Close()
		return nil, err
	}
	defer iter.Close()

	if !iter.Next() {
		return nil, iter.Err()
	}
	entry := core.cache.assertValue(iter.Entry().Key(), iter.Entry())
	if entry == nil {
		return nil, nil
	}
	return core.cache.install(entry), nil
}

// GetNextEntries yields at most count entries going forward from key. With a
// range source the first entry is the first one not before key; otherwise
// it is the entry loaded for key.
func (core *QueryCore[V]) GetNextEntries(ctx context.Context, key TimeKey, count int) (EntryIterator[V], error) {
	if count < 0 {
		return nil, ErrInvalidShiftUnits
	}
	if core.cache.source == nil {
		return &limitIterator[V]{
			source: &calendarIterator[V]{ctx: ctx, cache: core.cache, next: key},
			limit:  count,
		}, nil
	}

	raw, err := core.cache.source.Entries(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", core.cache.name, key, err)
	}
	return &limitIterator[V]{
		source: NewSkipDuplicateKeysIterator(raw, DefaultKeepLastDuplicate),
		limit:  count,
	}, nil
}

// GetPreviousEntry returns the entry shiftUnits steps before the entry at
// or before key.
func (core *QueryCore[V]) GetPreviousEntry(ctx context.Context, key TimeKey, shiftUnits int) (*Entry[V], error) {
	if shiftUnits < 0 {
		return nil, ErrInvalidShiftUnits
	}
	anchor, position, err := core.resolve(ctx, key, shiftUnits)
	if err != nil || anchor == nil || position < shiftUnits {
		return nil, err
	}
	return core.window[position-shiftUnits], nil
}

// GetPreviousEntries yields up to count entries ending with the entry at or
// before key, oldest first.
func (core *QueryCore[V]) GetPreviousEntries(ctx context.Context, key TimeKey, count int) (EntryIterator[V], error) {
	if count < 0 {
		return nil, ErrInvalidShiftUnits
	}
	if count == 0 {
		return NewSliceIterator[V](nil), nil
	}
	anchor, position, err := core.resolve(ctx, key, count-1)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return NewSliceIterator[V](nil), nil
	}

	from := position - count + 1
	if from < 0 {
		from = 0
	}
	snapshot := make([]*Entry[V], position-from+1)
	copy(snapshot, core.window[from:position+1])
	return NewSliceIterator(snapshot), nil
}

func (core *QueryCore[V]) Clear() {
	core.window = nil
	core.generation++
	core.complete = false
	core.stats = QueryCoreStats{}
}

// resolve loads the anchor entry for key and makes sure the window holds
// it with up to shiftUnits entries before it. The returned position is the
// anchor's window index.
func (core *QueryCore[V]) resolve(ctx context.Context, key TimeKey, shiftUnits int) (*Entry[V], int, error) {
	core.sync()
	anchor, err := core.cache.getWithoutFuture(ctx, key)
	if err != nil || anchor == nil {
		return nil, 0, err
	}

	position, found := core.locate(anchor.Key())
	if !found {
		appended, err := core.tryAppend(ctx, anchor, shiftUnits+1)
		if err != nil {
			return nil, 0, err
		}
		position, found = len(core.window)-1, appended
	}

	// a fill that only joins the anchor to the window may leave it short of
	// shiftUnits; the next round extends the window from its oldest entry
	for !found || (position < shiftUnits && !core.complete) {
		before := position
		if err := core.fill(ctx, anchor, shiftUnits, found, position); err != nil {
			return nil, 0, err
		}
		wasFound := found
		position, found = core.locate(anchor.Key())
		if !found || (wasFound && position <= before) {
			break
		}
	}
	if !found {
		return nil, 0, nil
	}
	return anchor, position, nil
}

// sync drops the window when the cache's source changed inside the span the
// window covers. Keys added after the newest window entry leave it valid.
func (core *QueryCore[V]) sync() {
	if core.cache.version == nil {
		return
	}
	version := core.cache.version()
	if version == core.version {
		return
	}
	core.version = version
	if len(core.window) == 0 || core.contiguous() {
		return
	}
	core.window = nil
	core.generation++
	core.complete = false
	core.stats.Resets++
}

// contiguous checks the window against the calendar. Keys that appeared
// between two window entries are dropped from the values map, where they may
// still resolve to the older neighbour.
func (core *QueryCore[V]) contiguous() bool {
	calendar := core.cache.calendar
	intact := true
	if core.complete {
		if _, ok := calendar.PreviousKey(core.window[0].Key()); ok {
			intact = false
		}
	}
	for i := 1; i < len(core.window); i++ {
		next, ok := calendar.NextKey(core.window[i-1].Key())
		if ok && next.Equal(core.window[i].Key()) {
			continue
		}
		intact = false
		for ok && next.Before(core.window[i].Key()) {
			core.cache.values.Invalidate(next)
			next, ok = calendar.NextKey(next)
		}
	}
	return intact
}

func (core *QueryCore[V]) locate(key TimeKey) (int, bool) {
	if index, ok := key.GetIndex(core.owner); ok && index.Generation == core.generation {
		if index.Cursor < len(core.window) && core.window[index.Cursor].Key().Equal(key) {
			core.stats.IndexHits++
			return index.Cursor, true
		}
	}

	position := sort.Search(len(core.window), func(i int) bool {
		return !core.window[i].Key().Before(key)
	})
	if position < len(core.window) && core.window[position].Key().Equal(key) {
		core.stats.SearchHits++
		key.PutIndex(core.owner, QueryCoreIndex{Generation: core.generation, Cursor: position})
		core.memoize(position)
		return position, true
	}
	return 0, false
}

// memoize records the position on the window entry itself, which may be a
// different object than the anchor that was looked up.
func (core *QueryCore[V]) memoize(position int) {
	core.window[position].Key().PutIndex(core.owner, QueryCoreIndex{
		Generation: core.generation,
		Cursor:     position,
	})
}

func (core *QueryCore[V]) previousEntry(ctx context.Context, key TimeKey) (*Entry[V], error) {
	previousKey, ok := core.cache.calendar.PreviousKey(key)
	if !ok {
		return nil, nil
	}
	entry, err := core.cache.getWithoutFuture(ctx, previousKey)
	if err != nil || entry == nil || !entry.Key().Before(key) {
		return nil, err
	}
	return entry, nil
}

// tryAppend extends the window by anchor when anchor directly follows the
// newest window entry. Appending keeps existing positions valid.
func (core *QueryCore[V]) tryAppend(ctx context.Context, anchor *Entry[V], keep int) (bool, error) {
	if len(core.window) == 0 {
		return false, nil
	}
	last := core.window[len(core.window)-1]
	if !anchor.Key().After(last.Key()) {
		return false, nil
	}
	previous, err := core.previousEntry(ctx, anchor.Key())
	if err != nil {
		return false, err
	}
	if previous == nil || !previous.Key().Equal(last.Key()) {
		return false, nil
	}

	core.cache.recordElementDistance(last.Key(), anchor.Key())
	core.window = append(core.window, anchor)
	core.stats.Appends++
	core.trim(false, keep)
	core.memoize(len(core.window) - 1)
	return true, nil
}

// fill is a window miss: it reports the miss and loads entries backward
// from the anchor, or from the window start when the anchor is already in
// the window, over the optimal read-back duration and at least far enough
// for shiftUnits. The maximum window size only bounds the read-back; a
// single resolution may grow the window past it.
func (core *QueryCore[V]) fill(ctx context.Context, anchor *Entry[V], shiftUnits int, inWindow bool, position int) error {
	readBack := core.cache.onMiss(ctx, anchor.Key())
	core.stats.WindowMisses++

	maxWindow := core.cache.config.MaxWindowSize
	start, needed := anchor, shiftUnits
	if inWindow {
		start, needed = core.window[0], shiftUnits-position
	}

	var lastInWindow *Entry[V]
	if !inWindow && len(core.window) > 0 {
		lastInWindow = core.window[len(core.window)-1]
	}

	collected := make([]*Entry[V], 0, needed)
	current := start
	connected, exhausted := false, false
	for {
		if len(collected) >= needed && anchor.Key().Sub(current.Key()) >= readBack {
			break
		}
		if maxWindow > 0 && len(collected) >= needed && len(collected)+1 >= maxWindow {
			break
		}
		previous, err := core.previousEntry(ctx, current.Key())
		if err != nil {
			return err
		}
		if previous == nil {
			exhausted = true
			break
		}
		core.cache.recordElementDistance(previous.Key(), current.Key())
		if lastInWindow != nil && previous.Key().Equal(lastInWindow.Key()) {
			connected = true
			break
		}
		collected = append(collected, previous)
		current = previous
	}

	older := make([]*Entry[V], len(collected))
	for i, entry := range collected {
		older[len(collected)-1-i] = entry
	}

	switch {
	case connected:
		// the gap to the window is closed, existing positions stay valid
		core.window = append(core.window, older...)
		core.window = append(core.window, anchor)
		core.trim(false, shiftUnits+1)
	case inWindow:
		core.window = append(older, core.window...)
		core.generation++
		core.complete = exhausted
		core.trim(true, position+len(older)+1)
	default:
		core.window = append(older, anchor)
		core.generation++
		core.complete = exhausted
	}
	return nil
}

// trim drops entries beyond the maximum window size, from the newest end
// when keepOldest is set and from the oldest end otherwise. At least keep
// entries survive at the kept end.
func (core *QueryCore[V]) trim(keepOldest bool, keep int) {
	maxWindow := core.cache.config.MaxWindowSize
	if maxWindow <= 0 || len(core.window) <= maxWindow {
		return
	}
	if keepOldest {
		limit := max(maxWindow, keep)
		if limit >= len(core.window) {
			return
		}
		core.window = core.window[:limit]
	} else {
		// drop a quarter at once so a forward scan does not trim on every step
		drop := len(core.window) - maxWindow + maxWindow/4
		drop = min(drop, len(core.window)-max(keep, 1))
		if drop <= 0 {
			return
		}
		core.window = append([]*Entry[V](nil), core.window[drop:]...)
		core.complete = false
	}
	core.generation++
}

// calendarIterator steps forward through the calendar and stops at the
// first step that does not move past the previous entry.
type calendarIterator[V any] struct {
	ctx     context.Context
	cache   *HistoricalCache[V]
	next    TimeKey
	started bool
	done    bool
	current *Entry[V]
	err     error
}

func (iter *calendarIterator[V]) Next() bool {
	if iter.done {
		return false
	}

	candidate := iter.next
	if iter.started {
		next, ok := iter.cache.calendar.NextKey(iter.current.Key())
		if !ok {
			iter.done = true
			return false
		}
		candidate = next
	}

	entry, err := iter.cache.getWithFuture(iter.ctx, candidate)
	if err != nil || entry == nil || (iter.started && !entry.Key().After(iter.current.Key())) {
		iter.err = err
		iter.done = true
		return false
	}
	iter.started = true
	iter.current = entry
	return true
}

func (iter *calendarIterator[V]) Entry() *Entry[V] {
	return iter.current
}

func (iter *calendarIterator[V]) Err() error {
	return iter.err
}

func (iter *calendarIterator[V]) Close() {
	iter.done = true
}
