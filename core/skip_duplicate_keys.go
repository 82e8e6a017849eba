package core

const DefaultKeepLastDuplicate = true

// SkipDuplicateKeysIterator collapses each run of entries sharing a key into
// one entry, the first or the last of the run.
type SkipDuplicateKeysIterator[V any] struct {
	source            EntryIterator[V]
	keepLastDuplicate bool
	pending           *Entry[V]
	current           *Entry[V]
	sourceDone        bool
	err               error
}

func NewSkipDuplicateKeysIterator[V any](source EntryIterator[V], keepLastDuplicate bool) *SkipDuplicateKeysIterator[V] {
	return &SkipDuplicateKeysIterator[V]{
		source:            source,
		keepLastDuplicate: keepLastDuplicate,
	}
}

func (iter *SkipDuplicateKeysIterator[V]) pull() (*Entry[V], bool) {
	if iter.sourceDone {
		return nil, false
	}
	if iter.source.Next() {
		return iter.source.Entry(), true
	}
	iter.sourceDone = true
	iter.err = iter.source.Err()
	iter.source.Close()
	return nil, false
}

func (iter *SkipDuplicateKeysIterator[V]) Next() bool {
	candidate := iter.pending
	iter.pending = nil
	if candidate == nil {
		var ok bool
		if candidate, ok = iter.pull(); !ok {
			iter.current = nil
			return false
		}
	}

	for {
		next, ok := iter.pull()
		if !ok {
			break
		}
		if !next.Key().Equal(candidate.Key()) {
			iter.pending = next
			break
		}
		if iter.keepLastDuplicate {
			candidate = next
		}
	}

	iter.current = candidate
	return true
}

func (iter *SkipDuplicateKeysIterator[V]) Entry() *Entry[V] {
	return iter.current
}

func (iter *SkipDuplicateKeysIterator[V]) Err() error {
	return iter.err
}

func (iter *SkipDuplicateKeysIterator[V]) Close() {
	if !iter.sourceDone {
		iter.sourceDone = true
		iter.source.Close()
	}
	iter.pending = nil
}
