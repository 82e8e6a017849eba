package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"histcache/storage"
)

func TestIntervalCalendar(t *testing.T) {
	calendar := NewIntervalCalendar(10 * time.Millisecond)

	next, ok := calendar.NextKey(NewTimeKey(20))
	assert.True(t, ok)
	assert.Equal(t, int64(30), next.Millis())

	next, _ = calendar.NextKey(NewTimeKey(25))
	assert.Equal(t, int64(30), next.Millis())

	previous, _ := calendar.PreviousKey(NewTimeKey(20))
	assert.Equal(t, int64(10), previous.Millis())

	previous, _ = calendar.PreviousKey(NewTimeKey(25))
	assert.Equal(t, int64(20), previous.Millis())

	previous, _ = calendar.PreviousKey(NewTimeKey(-5))
	assert.Equal(t, int64(-10), previous.Millis())

	calendar.Bounded(NewTimeKey(0), NewTimeKey(30))
	_, ok = calendar.PreviousKey(NewTimeKey(0))
	assert.False(t, ok)
	_, ok = calendar.NextKey(NewTimeKey(30))
	assert.False(t, ok)
}

func TestIndexCalendar(t *testing.T) {
	index := storage.NewTimestampIndex()
	for _, ts := range []int64{5, 7, 7, 12} {
		index.Add(ts)
	}
	calendar := NewIndexCalendar(index)

	next, ok := calendar.NextKey(NewTimeKey(7))
	assert.True(t, ok)
	assert.Equal(t, int64(12), next.Millis())

	previous, ok := calendar.PreviousKey(NewTimeKey(7))
	assert.True(t, ok)
	assert.Equal(t, int64(5), previous.Millis())

	_, ok = calendar.PreviousKey(NewTimeKey(5))
	assert.False(t, ok)
}
