package core

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"histcache/storage"
)

// BackingStore serves one stored series to a HistoricalCache: a floor
// Loader, a RangeSource and a Calendar over the stored timestamps.
// Duplicate timestamps resolve to the last record written.
type BackingStore[V any] struct {
	backend      storage.Backend
	codec        storage.Codec[V]
	seriesID     int64
	index        *storage.TimestampIndex
	cacheEnabled bool
	recordCache  *ristretto.Cache
}

func NewBackingStore[V any](backend storage.Backend, codec storage.Codec[V], seriesID int64, cacheEnabled bool) (*BackingStore[V], error) {
	index, err := storage.LoadTimestampIndex(backend, seriesID)
	if err != nil {
		return nil, fmt.Errorf("loading index of series %d: %w", seriesID, err)
	}

	store := &BackingStore[V]{
		backend:      backend,
		codec:        codec,
		seriesID:     seriesID,
		index:        index,
		cacheEnabled: cacheEnabled,
	}
	if cacheEnabled {
		store.recordCache, err = ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     1 << 14,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (store *BackingStore[V]) Index() *storage.TimestampIndex {
	return store.index
}

func (store *BackingStore[V]) Calendar() Calendar {
	return NewIndexCalendar(store.index)
}

func (store *BackingStore[V]) Append(timestamp int64, value V) error {
	buf, err := store.codec.Encode(timestamp, value)
	if err != nil {
		return err
	}
	if err := store.backend.Append(store.seriesID, timestamp, buf); err != nil {
		return err
	}
	if store.cacheEnabled {
		store.recordCache.Del(timestamp)
	}
	store.index.Add(timestamp)
	return nil
}

func (store *BackingStore[V]) decode(record storage.Record) (*Entry[V], error) {
	_, value, err := store.codec.Decode(record.Value)
	if err != nil {
		return nil, fmt.Errorf("decoding series %d at %d: %w", store.seriesID, record.Timestamp, err)
	}
	return NewEntry(NewTimeKey(record.Timestamp), value), nil
}

// Load returns the last record at the greatest timestamp <= key.
func (store *BackingStore[V]) Load(ctx context.Context, key TimeKey) (*Entry[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timestamp, ok := store.index.Floor(key.Millis())
	if !ok {
		return nil, nil
	}
	if store.cacheEnabled {
		if entry, found := store.recordCache.Get(timestamp); found {
			return entry.(*Entry[V]), nil
		}
	}

	record, err := store.backend.Floor(store.seriesID, timestamp)
	if err != nil || record == nil {
		return nil, err
	}
	entry, err := store.decode(*record)
	if err != nil {
		return nil, err
	}
	if store.cacheEnabled && record.Timestamp == timestamp {
		store.recordCache.Set(timestamp, entry, 1)
	}
	return entry, nil
}

// Entries streams every stored record from the first timestamp not before
// from, duplicates included.
func (store *BackingStore[V]) Entries(ctx context.Context, from TimeKey) (EntryIterator[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := store.backend.NewIterator(store.seriesID, from.Millis(), false)
	if err != nil {
		return nil, err
	}
	return &recordEntryIterator[V]{ctx: ctx, store: store, records: records}, nil
}

func (store *BackingStore[V]) Close() {
	if store.cacheEnabled {
		store.recordCache.Close()
	}
}

type recordEntryIterator[V any] struct {
	ctx     context.Context
	store   *BackingStore[V]
	records storage.RecordIterator
	current *Entry[V]
	err     error
}

func (iter *recordEntryIterator[V]) Next() bool {
	if iter.err != nil {
		return false
	}
	if err := iter.ctx.Err(); err != nil {
		iter.err = err
		iter.Close()
		return false
	}
	if !iter.records.Next() {
		iter.err = iter.records.Err()
		iter.Close()
		return false
	}
	iter.current, iter.err = iter.store.decode(iter.records.Record())
	if iter.err != nil {
		iter.Close()
		return false
	}
	return true
}

func (iter *recordEntryIterator[V]) Entry() *Entry[V] {
	return iter.current
}

func (iter *recordEntryIterator[V]) Err() error {
	return iter.err
}

func (iter *recordEntryIterator[V]) Close() {
	iter.records.Close()
}

// NewStoredCache wires a HistoricalCache to a backing store.
func NewStoredCache[V any](name string, store *BackingStore[V], config StoreConfig) (*HistoricalCache[V], error) {
	cache, err := NewHistoricalCache(name, store.Load, store.Calendar(), config)
	if err != nil {
		return nil, err
	}
	return cache.SetRangeSource(store).SetVersionSource(store.index.Version), nil
}
