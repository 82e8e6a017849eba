package core

import (
	"container/list"
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Loader produces the entry for a key. A nil entry with a nil error means
// there is no value; the entry key may differ from the requested key.
type Loader[V any] func(ctx context.Context, key TimeKey) (*Entry[V], error)

// Listener observes a values map. OnBeforeGet runs before every lookup and
// OnValueLoaded after every successful load or put.
type Listener[V any] interface {
	OnBeforeGet(ctx context.Context, key TimeKey)
	OnValueLoaded(key TimeKey, entry *Entry[V])
}

type ValuesMap[V any] interface {
	// Get returns the cached entry, loading it on a miss.
	Get(ctx context.Context, key TimeKey) (*Entry[V], error)
	// GetIfPresent never loads. A remembered null reports (nil, true).
	GetIfPresent(key TimeKey) (*Entry[V], bool)
	// Put installs entry under key; nil installs a remembered null.
	Put(key TimeKey, entry *Entry[V])
	Invalidate(key TimeKey)
	ContainsKey(key TimeKey) bool
	Clear()
	Size() int
	// MaximumSize is zero for unbounded maps.
	MaximumSize() int
	SetMaximumSize(size int)
}

type cachedValue[V any] struct {
	entry *Entry[V]
	// refresh stamp current when the value was loaded
	stamp int64
}

type valueStore[V any] interface {
	get(key int64) (cachedValue[V], bool)
	set(key int64, value cachedValue[V])
	del(key int64)
	clear()
	len() int
	capacity() int
	resize(size int)
	close()
}

type EvictionMode int

const (
	LeastRecentlyUsed EvictionMode = iota
	LeastRecentlyAdded
)

// listStore is an exact bounded map ordered by use or by insertion.
type listStore[V any] struct {
	mutex   sync.Mutex
	entries map[int64]*list.Element
	order   *list.List
	size    int
	mode    EvictionMode
	onEvict func(key int64)
}

type listItem[V any] struct {
	key   int64
	value cachedValue[V]
}

func newListStore[V any](size int, mode EvictionMode, onEvict func(int64)) *listStore[V] {
	return &listStore[V]{
		entries: make(map[int64]*list.Element),
		order:   list.New(),
		size:    size,
		mode:    mode,
		onEvict: onEvict,
	}
}

func (store *listStore[V]) get(key int64) (cachedValue[V], bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	element, ok := store.entries[key]
	if !ok {
		return cachedValue[V]{}, false
	}
	if store.mode == LeastRecentlyUsed {
		store.order.MoveToFront(element)
	}
	return element.Value.(*listItem[V]).value, true
}

func (store *listStore[V]) set(key int64, value cachedValue[V]) {
	store.mutex.Lock()
	evicted := make([]int64, 0, 1)
	if element, ok := store.entries[key]; ok {
		element.Value.(*listItem[V]).value = value
		if store.mode == LeastRecentlyUsed {
			store.order.MoveToFront(element)
		}
	} else {
		store.entries[key] = store.order.PushFront(&listItem[V]{key: key, value: value})
		evicted = store.evictLocked(evicted)
	}
	store.mutex.Unlock()

	for _, key := range evicted {
		store.onEvict(key)
	}
}

func (store *listStore[V]) evictLocked(evicted []int64) []int64 {
	for store.size > 0 && store.order.Len() > store.size {
		oldest := store.order.Back()
		item := oldest.Value.(*listItem[V])
		store.order.Remove(oldest)
		delete(store.entries, item.key)
		evicted = append(evicted, item.key)
	}
	return evicted
}

func (store *listStore[V]) del(key int64) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if element, ok := store.entries[key]; ok {
		store.order.Remove(element)
		delete(store.entries, key)
	}
}

func (store *listStore[V]) clear() {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries = make(map[int64]*list.Element)
	store.order.Init()
}

func (store *listStore[V]) len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.order.Len()
}

func (store *listStore[V]) capacity() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.size
}

func (store *listStore[V]) resize(size int) {
	store.mutex.Lock()
	store.size = size
	evicted := store.evictLocked(nil)
	store.mutex.Unlock()

	for _, key := range evicted {
		store.onEvict(key)
	}
}

func (store *listStore[V]) close() {}

// ristrettoStore wraps a TinyLFU cache. Sets are buffered, so a value may
// not be visible right after set, and len is derived from the cache
// metrics. The cost limit is fixed when the cache is built, so a resize
// only takes effect with the next clear.
type ristrettoStore[V any] struct {
	mutex   sync.RWMutex
	cache   *ristretto.Cache
	size    int
	deleted atomic.Int64
}

func newRistrettoCache(size int) (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
		Metrics:     true,
	})
}

func newRistrettoStore[V any](size int) (*ristrettoStore[V], error) {
	if size <= 0 {
		return nil, errors.New("core: ristretto values map needs a positive size")
	}
	cache, err := newRistrettoCache(size)
	if err != nil {
		return nil, err
	}
	return &ristrettoStore[V]{cache: cache, size: size}, nil
}

func (store *ristrettoStore[V]) get(key int64) (cachedValue[V], bool) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	value, found := store.cache.Get(key)
	if !found {
		return cachedValue[V]{}, false
	}
	return value.(cachedValue[V]), true
}

func (store *ristrettoStore[V]) set(key int64, value cachedValue[V]) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	store.cache.Set(key, value, 1)
}

func (store *ristrettoStore[V]) del(key int64) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if _, found := store.cache.Get(key); found {
		store.deleted.Add(1)
	}
	store.cache.Del(key)
}

func (store *ristrettoStore[V]) rebuild(size int) {
	cache, err := newRistrettoCache(size)
	if err != nil {
		// keep serving from the old cache
		return
	}
	store.cache.Close()
	store.cache = cache
	store.size = size
	store.deleted.Store(0)
}

func (store *ristrettoStore[V]) clear() {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.rebuild(store.size)
}

func (store *ristrettoStore[V]) len() int {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	metrics := store.cache.Metrics
	if metrics == nil {
		return 0
	}
	size := int64(metrics.KeysAdded()) - int64(metrics.KeysEvicted()) - store.deleted.Load()
	if size < 0 {
		return 0
	}
	return int(size)
}

func (store *ristrettoStore[V]) capacity() int {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.size
}

func (store *ristrettoStore[V]) resize(size int) {
	if size <= 0 {
		return
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.size = size
}

func (store *ristrettoStore[V]) close() {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.cache.Close()
}

type unboundedStore[V any] struct {
	values *xsync.MapOf[int64, cachedValue[V]]
}

func newUnboundedStore[V any]() *unboundedStore[V] {
	return &unboundedStore[V]{values: xsync.NewMapOf[int64, cachedValue[V]]()}
}

func (store *unboundedStore[V]) get(key int64) (cachedValue[V], bool) {
	return store.values.Load(key)
}

func (store *unboundedStore[V]) set(key int64, value cachedValue[V]) {
	store.values.Store(key, value)
}

func (store *unboundedStore[V]) del(key int64) {
	store.values.Delete(key)
}

func (store *unboundedStore[V]) clear() {
	store.values.Clear()
}

func (store *unboundedStore[V]) len() int {
	return store.values.Size()
}

func (store *unboundedStore[V]) capacity() int {
	return 0
}

func (store *unboundedStore[V]) resize(int) {}

func (store *unboundedStore[V]) close() {}

// LoadingValuesMap loads missing keys through a Loader with at most one
// load in flight per key. A failed or cancelled load installs nothing.
type LoadingValuesMap[V any] struct {
	name         string
	store        valueStore[V]
	loader       Loader[V]
	flight       singleflight.Group
	rememberNull bool
	refresh      *RefreshManager
	listeners    []Listener[V]
	listenerLock sync.RWMutex
	logger       zerolog.Logger
}

func newLoadingValuesMap[V any](name string, loader Loader[V], config StoreConfig) *LoadingValuesMap[V] {
	refresh := config.Refresh
	if refresh == nil {
		refresh = DefaultRefreshManager
	}
	return &LoadingValuesMap[V]{
		name:         name,
		loader:       loader,
		rememberNull: config.RememberNullValues,
		refresh:      refresh,
		logger:       config.Logger.With().Str("cache", name).Logger(),
	}
}

func (values *LoadingValuesMap[V]) onEvict(key int64) {
	recordCacheEviction(context.Background(), values.name)
	values.logger.Trace().Int64("key", key).Msg("evicted")
}

func NewBoundedValuesMap[V any](name string, loader Loader[V], mode EvictionMode, config StoreConfig) *LoadingValuesMap[V] {
	values := newLoadingValuesMap(name, loader, config)
	values.store = newListStore[V](config.MaximumSize, mode, values.onEvict)
	return values
}

func NewRistrettoValuesMap[V any](name string, loader Loader[V], config StoreConfig) (*LoadingValuesMap[V], error) {
	store, err := newRistrettoStore[V](config.MaximumSize)
	if err != nil {
		return nil, err
	}
	values := newLoadingValuesMap(name, loader, config)
	values.store = store
	return values, nil
}

func NewUnboundedValuesMap[V any](name string, loader Loader[V], config StoreConfig) *LoadingValuesMap[V] {
	values := newLoadingValuesMap(name, loader, config)
	values.store = newUnboundedStore[V]()
	return values
}

// NewValuesMap builds the map kind named by config.ValuesMap.
func NewValuesMap[V any](name string, loader Loader[V], config StoreConfig) (*LoadingValuesMap[V], error) {
	switch config.ValuesMap {
	case BoundedLRU:
		return NewBoundedValuesMap(name, loader, LeastRecentlyUsed, config), nil
	case BoundedLRA:
		return NewBoundedValuesMap(name, loader, LeastRecentlyAdded, config), nil
	case Ristretto:
		return NewRistrettoValuesMap(name, loader, config)
	default:
		return NewUnboundedValuesMap(name, loader, config), nil
	}
}

func (values *LoadingValuesMap[V]) AddListener(listener Listener[V]) {
	values.listenerLock.Lock()
	defer values.listenerLock.Unlock()
	values.listeners = append(values.listeners, listener)
}

func (values *LoadingValuesMap[V]) getListeners() []Listener[V] {
	values.listenerLock.RLock()
	defer values.listenerLock.RUnlock()
	return values.listeners
}

// lookup reports a usable cached value. Remembered nulls from before the
// last refresh are dropped.
func (values *LoadingValuesMap[V]) lookup(key TimeKey) (*Entry[V], bool) {
	cached, ok := values.store.get(key.Millis())
	if !ok {
		return nil, false
	}
	if cached.entry == nil && cached.stamp < values.refresh.Stamp() {
		values.store.del(key.Millis())
		return nil, false
	}
	return cached.entry, true
}

func (values *LoadingValuesMap[V]) Get(ctx context.Context, key TimeKey) (*Entry[V], error) {
	for _, listener := range values.getListeners() {
		listener.OnBeforeGet(ctx, key)
	}

	if entry, ok := values.lookup(key); ok {
		recordCacheHit(ctx, values.name)
		return entry, nil
	}
	recordCacheMiss(ctx, values.name)

	if values.loader == nil {
		return nil, ErrNoLoader
	}

	flightKey := strconv.FormatInt(key.Millis(), 10)
	retried := false
	for {
		result := values.flight.DoChan(flightKey, func() (interface{}, error) {
			return values.load(ctx, key)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case loaded := <-result:
			if loaded.Err != nil {
				// the load was cancelled by another caller's context
				if loaded.Shared && !retried && ctx.Err() == nil && isContextError(loaded.Err) {
					retried = true
					continue
				}
				return nil, loaded.Err
			}
			entry, _ := loaded.Val.(*Entry[V])
			return entry, nil
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (values *LoadingValuesMap[V]) load(ctx context.Context, key TimeKey) (*Entry[V], error) {
	// a concurrent flight may have installed the value already
	if entry, ok := values.lookup(key); ok {
		return entry, nil
	}

	stamp := values.refresh.Stamp()
	ctx, span := startLoadSpan(ctx, values.name, key)
	defer span.End()

	start := time.Now()
	entry, err := values.loader(ctx, key)
	recordLoad(ctx, values.name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		values.logger.Debug().Err(err).Int64("key", key.Millis()).Msg("load failed")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if entry == nil && !values.rememberNull {
		return nil, nil
	}
	values.store.set(key.Millis(), cachedValue[V]{entry: entry, stamp: stamp})
	for _, listener := range values.getListeners() {
		listener.OnValueLoaded(key, entry)
	}
	return entry, nil
}

func (values *LoadingValuesMap[V]) GetIfPresent(key TimeKey) (*Entry[V], bool) {
	return values.lookup(key)
}

func (values *LoadingValuesMap[V]) Put(key TimeKey, entry *Entry[V]) {
	if entry == nil && !values.rememberNull {
		values.store.del(key.Millis())
		return
	}
	values.store.set(key.Millis(), cachedValue[V]{entry: entry, stamp: values.refresh.Stamp()})
	for _, listener := range values.getListeners() {
		listener.OnValueLoaded(key, entry)
	}
}

func (values *LoadingValuesMap[V]) Invalidate(key TimeKey) {
	values.store.del(key.Millis())
}

func (values *LoadingValuesMap[V]) ContainsKey(key TimeKey) bool {
	_, ok := values.lookup(key)
	return ok
}

func (values *LoadingValuesMap[V]) Clear() {
	values.store.clear()
}

func (values *LoadingValuesMap[V]) Size() int {
	return values.store.len()
}

func (values *LoadingValuesMap[V]) MaximumSize() int {
	return values.store.capacity()
}

func (values *LoadingValuesMap[V]) SetMaximumSize(size int) {
	values.logger.Debug().
		Int("from", values.store.capacity()).
		Int("to", size).
		Msg("resizing values map")
	values.store.resize(size)
}

func (values *LoadingValuesMap[V]) Close() {
	values.store.close()
}
