package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RefreshManager holds the process-wide "last refresh" stamp. Values maps
// that consult it treat remembered nulls loaded before the stamp as stale.
// Reads are lock-free; refreshes are serialized.
type RefreshManager struct {
	stamp  atomic.Int64
	mutex  sync.Mutex
	now    func() time.Time
	logger zerolog.Logger
}

var DefaultRefreshManager = NewRefreshManager(time.Now)

func NewRefreshManager(now func() time.Time) *RefreshManager {
	manager := &RefreshManager{now: now, logger: log.Logger}
	manager.stamp.Store(now().UnixNano())
	return manager
}

func (manager *RefreshManager) SetLogger(logger zerolog.Logger) *RefreshManager {
	manager.logger = logger
	return manager
}

// Stamp is the last refresh in unix nanoseconds.
func (manager *RefreshManager) Stamp() int64 {
	return manager.stamp.Load()
}

func (manager *RefreshManager) LastRefresh() time.Time {
	return time.Unix(0, manager.Stamp())
}

func (manager *RefreshManager) refreshLocked() time.Time {
	now := manager.now().UnixNano()
	if last := manager.stamp.Load(); now <= last {
		now = last + 1
	}
	manager.stamp.Store(now)
	return time.Unix(0, now)
}

// ForceRefresh advances the stamp. Successive calls always return strictly
// increasing times, even if the clock does not move.
func (manager *RefreshManager) ForceRefresh() time.Time {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	refreshed := manager.refreshLocked()
	manager.logger.Debug().Time("at", refreshed).Msg("forced refresh")
	return refreshed
}

// MaybeRefresh refreshes when interval has elapsed since the last refresh
// or the calendar day changed.
func (manager *RefreshManager) MaybeRefresh(interval time.Duration) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	last := time.Unix(0, manager.stamp.Load()).UTC()
	now := manager.now().UTC()
	if now.Sub(last) < interval && sameDay(last, now) {
		return false
	}
	refreshed := manager.refreshLocked()
	manager.logger.Trace().Time("at", refreshed).Msg("scheduled refresh")
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Start runs MaybeRefresh on every tick until ctx is done.
func (manager *RefreshManager) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.MaybeRefresh(interval)
			}
		}
	}()
}
