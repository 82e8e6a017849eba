package core

import (
	"strconv"
	"time"
)

// TimeKey is a millisecond instant. A key attached to a cached entry also
// carries the IndexedKey used by query cores to memoize window positions.
type TimeKey struct {
	millis int64
	index  *IndexedKey
}

func NewTimeKey(millis int64) TimeKey {
	return TimeKey{millis: millis}
}

func TimeKeyOf(t time.Time) TimeKey {
	return TimeKey{millis: t.UnixMilli()}
}

func (key TimeKey) Millis() int64 {
	return key.millis
}

func (key TimeKey) Time() time.Time {
	return time.UnixMilli(key.millis).UTC()
}

func (key TimeKey) Add(d time.Duration) TimeKey {
	return TimeKey{millis: key.millis + d.Milliseconds()}
}

// Sub returns key - other.
func (key TimeKey) Sub(other TimeKey) time.Duration {
	return time.Duration(key.millis-other.millis) * time.Millisecond
}

func (key TimeKey) Before(other TimeKey) bool {
	return key.millis < other.millis
}

func (key TimeKey) After(other TimeKey) bool {
	return key.millis > other.millis
}

// Equal compares instants only; the attached index is ignored.
func (key TimeKey) Equal(other TimeKey) bool {
	return key.millis == other.millis
}

func (key TimeKey) Compare(other TimeKey) int {
	switch {
	case key.millis < other.millis:
		return -1
	case key.millis > other.millis:
		return 1
	}
	return 0
}

func (key TimeKey) String() string {
	return strconv.FormatInt(key.millis, 10)
}

// KeysEqual is the null-safe variant of Equal.
func KeysEqual(a, b *TimeKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.millis == b.millis
}

func (key TimeKey) GetIndex(owner OwnerID) (QueryCoreIndex, bool) {
	if key.index == nil {
		return QueryCoreIndex{}, false
	}
	return key.index.GetIndex(owner)
}

// PutIndex is a no-op for keys that are not attached to an entry.
func (key TimeKey) PutIndex(owner OwnerID, index QueryCoreIndex) {
	if key.index == nil {
		return
	}
	key.index.PutIndex(owner, index)
}

func (key TimeKey) withIndex() TimeKey {
	if key.index == nil {
		key.index = &IndexedKey{}
	}
	return key
}
