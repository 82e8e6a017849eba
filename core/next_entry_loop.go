package core

import "context"

// getNextEntryQueryLoop walks shiftUnits calendar steps forward from key.
// The first step loads key itself. Once a step yields the key of the
// previous step again, the remaining steps are absorbed without moving, so
// a run of equal keys never counts as several steps.
func getNextEntryQueryLoop[V any](ctx context.Context, cache *HistoricalCache[V], key TimeKey, shiftUnits int) (*Entry[V], error) {
	nextKey := key
	var entry *Entry[V]
	duplicateEncountered := false

	for iterations := 0; iterations <= shiftUnits; iterations++ {
		if duplicateEncountered {
			continue
		}

		candidateKey := nextKey
		if iterations > 0 {
			next, ok := cache.calendar.NextKey(nextKey)
			if !ok {
				return nil, nil
			}
			candidateKey = next
		}

		loaded, err := cache.getWithFuture(ctx, candidateKey)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, nil
		}

		actualKey := loaded.Key()
		if iterations > 0 && actualKey.Equal(nextKey) {
			duplicateEncountered = true
		}
		nextKey = actualKey
		entry = loaded
	}
	return entry, nil
}
