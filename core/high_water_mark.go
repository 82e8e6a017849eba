package core

import (
	"context"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// HighWaterMarkFunc returns the latest settled key, if any.
type HighWaterMarkFunc func(ctx context.Context) (TimeKey, bool)

// HighWaterMarkListener evicts keys that were loaded above the high-water
// mark once the mark moves past them. Keys at or below the mark are never
// touched.
type HighWaterMarkListener[V any] struct {
	name      string
	values    ValuesMap[V]
	provider  HighWaterMarkFunc
	mark      atomic.Int64
	hasMark   atomic.Bool
	computing atomic.Bool
	loaded    *xsync.MapOf[int64, TimeKey]
	logger    zerolog.Logger
}

func NewHighWaterMarkListener[V any](name string, values ValuesMap[V], provider HighWaterMarkFunc, logger zerolog.Logger) *HighWaterMarkListener[V] {
	return &HighWaterMarkListener[V]{
		name:     name,
		values:   values,
		provider: provider,
		loaded:   xsync.NewMapOf[int64, TimeKey](),
		logger:   logger,
	}
}

func (listener *HighWaterMarkListener[V]) HighWaterMark() (TimeKey, bool) {
	if !listener.hasMark.Load() {
		return TimeKey{}, false
	}
	return NewTimeKey(listener.mark.Load()), true
}

// OnBeforeGet polls the provider. Calls made while the provider is running
// return immediately.
func (listener *HighWaterMarkListener[V]) OnBeforeGet(ctx context.Context, _ TimeKey) {
	if !listener.computing.CompareAndSwap(false, true) {
		return
	}
	defer listener.computing.Store(false)

	mark, ok := listener.provider(ctx)
	if !ok {
		return
	}
	if listener.hasMark.Load() && mark.Millis() <= listener.mark.Load() {
		return
	}
	previous, hadMark := listener.mark.Load(), listener.hasMark.Load()
	listener.mark.Store(mark.Millis())
	listener.hasMark.Store(true)
	if !hadMark {
		return
	}

	evicted := 0
	listener.loaded.Range(func(millis int64, key TimeKey) bool {
		if millis > previous {
			listener.values.Invalidate(key)
			evicted++
		}
		listener.loaded.Delete(millis)
		return true
	})
	recordHighWaterEvictions(ctx, listener.name, evicted)
	listener.logger.Debug().
		Int64("from", previous).
		Int64("to", mark.Millis()).
		Int("evicted", evicted).
		Msg("high-water mark advanced")
}

func (listener *HighWaterMarkListener[V]) OnValueLoaded(key TimeKey, _ *Entry[V]) {
	if listener.hasMark.Load() && key.Millis() <= listener.mark.Load() {
		return
	}
	listener.loaded.Store(key.Millis(), key)
}
