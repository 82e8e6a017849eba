package core

// ShiftForwardLoopIterator positions a source exactly shiftUnits logical
// steps after a reference key and then continues with the remaining source
// entries. The source should already be free of duplicate keys.
//
// With zero units the first entry not before the reference is the result.
// Otherwise entries not after the reference are skipped once, which makes
// the first entry after the reference step one, and every further step
// consumes one entry.
type ShiftForwardLoopIterator[V any] struct {
	source     EntryIterator[V]
	reference  TimeKey
	shiftUnits int
	positioned bool
	done       bool
	current    *Entry[V]
}

func NewShiftForwardLoopIterator[V any](source EntryIterator[V], reference TimeKey, shiftUnits int) (*ShiftForwardLoopIterator[V], error) {
	if shiftUnits < 0 {
		return nil, ErrInvalidShiftUnits
	}
	return &ShiftForwardLoopIterator[V]{
		source:     source,
		reference:  reference,
		shiftUnits: shiftUnits,
	}, nil
}

func (iter *ShiftForwardLoopIterator[V]) advance() bool {
	if iter.done {
		return false
	}
	if !iter.source.Next() {
		iter.done = true
		iter.source.Close()
		return false
	}
	iter.current = iter.source.Entry()
	return true
}

func (iter *ShiftForwardLoopIterator[V]) position() bool {
	if iter.shiftUnits == 0 {
		for iter.advance() {
			if !iter.current.Key().Before(iter.reference) {
				return true
			}
		}
		return false
	}

	for iter.advance() {
		if iter.current.Key().After(iter.reference) {
			break
		}
	}
	if iter.done {
		return false
	}
	for remaining := iter.shiftUnits - 1; remaining > 0; remaining-- {
		if !iter.advance() {
			return false
		}
	}
	return true
}

func (iter *ShiftForwardLoopIterator[V]) Next() bool {
	var ok bool
	if !iter.positioned {
		iter.positioned = true
		ok = iter.position()
	} else {
		ok = iter.advance()
	}
	if !ok {
		iter.current = nil
	}
	return ok
}

func (iter *ShiftForwardLoopIterator[V]) Entry() *Entry[V] {
	return iter.current
}

func (iter *ShiftForwardLoopIterator[V]) Err() error {
	return iter.source.Err()
}

func (iter *ShiftForwardLoopIterator[V]) Close() {
	if !iter.done {
		iter.done = true
		iter.source.Close()
	}
}
