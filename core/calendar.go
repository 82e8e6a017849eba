package core

import (
	"time"

	"histcache/storage"
)

// Calendar is the logical time grid used to step between keys.
type Calendar interface {
	NextKey(key TimeKey) (TimeKey, bool)
	PreviousKey(key TimeKey) (TimeKey, bool)
}

// IntervalCalendar is a fixed-step grid aligned to the epoch, optionally
// bounded on either side (inclusive).
type IntervalCalendar struct {
	Step time.Duration
	From *TimeKey
	To   *TimeKey
}

func NewIntervalCalendar(step time.Duration) *IntervalCalendar {
	return &IntervalCalendar{Step: step}
}

func (calendar *IntervalCalendar) Bounded(from, to TimeKey) *IntervalCalendar {
	calendar.From = &from
	calendar.To = &to
	return calendar
}

func (calendar *IntervalCalendar) step() int64 {
	step := calendar.Step.Milliseconds()
	if step <= 0 {
		return 1
	}
	return step
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func (calendar *IntervalCalendar) inBounds(millis int64) bool {
	if calendar.From != nil && millis < calendar.From.Millis() {
		return false
	}
	if calendar.To != nil && millis > calendar.To.Millis() {
		return false
	}
	return true
}

func (calendar *IntervalCalendar) NextKey(key TimeKey) (TimeKey, bool) {
	step := calendar.step()
	next := (floorDiv(key.Millis(), step) + 1) * step
	if !calendar.inBounds(next) {
		return TimeKey{}, false
	}
	return NewTimeKey(next), true
}

func (calendar *IntervalCalendar) PreviousKey(key TimeKey) (TimeKey, bool) {
	step := calendar.step()
	aligned := floorDiv(key.Millis(), step) * step
	previous := aligned
	if aligned == key.Millis() {
		previous = aligned - step
	}
	if !calendar.inBounds(previous) {
		return TimeKey{}, false
	}
	return NewTimeKey(previous), true
}

// IndexCalendar steps over the timestamps actually stored for a series.
type IndexCalendar struct {
	index *storage.TimestampIndex
}

func NewIndexCalendar(index *storage.TimestampIndex) *IndexCalendar {
	return &IndexCalendar{index: index}
}

func (calendar *IndexCalendar) NextKey(key TimeKey) (TimeKey, bool) {
	next, ok := calendar.index.Next(key.Millis())
	return NewTimeKey(next), ok
}

func (calendar *IndexCalendar) PreviousKey(key TimeKey) (TimeKey, bool) {
	previous, ok := calendar.index.Previous(key.Millis())
	return NewTimeKey(previous), ok
}
