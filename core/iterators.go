package core

// EntryIterator is a single-pass pull cursor over entries in key order.
//
//	for iter.Next() {
//		entry := iter.Entry()
//	}
//	err := iter.Err()
type EntryIterator[V any] interface {
	Next() bool
	Entry() *Entry[V]
	Err() error
	Close()
}

type sliceIterator[V any] struct {
	entries  []*Entry[V]
	position int
	current  *Entry[V]
}

// NewSliceIterator iterates over a fixed list of entries.
func NewSliceIterator[V any](entries []*Entry[V]) EntryIterator[V] {
	return &sliceIterator[V]{entries: entries}
}

func (iter *sliceIterator[V]) Next() bool {
	if iter.position >= len(iter.entries) {
		iter.current = nil
		return false
	}
	iter.current = iter.entries[iter.position]
	iter.position++
	return true
}

func (iter *sliceIterator[V]) Entry() *Entry[V] {
	return iter.current
}

func (iter *sliceIterator[V]) Err() error {
	return nil
}

func (iter *sliceIterator[V]) Close() {
	iter.position = len(iter.entries)
}

// Collect drains an iterator and closes it.
func Collect[V any](iter EntryIterator[V]) ([]*Entry[V], error) {
	defer iter.Close()
	entries := make([]*Entry[V], 0)
	for iter.Next() {
		entries = append(entries, iter.Entry())
	}
	return entries, iter.Err()
}

// limitIterator stops after limit entries and closes its source.
type limitIterator[V any] struct {
	source EntryIterator[V]
	limit  int
	count  int
}

func (iter *limitIterator[V]) Next() bool {
	if iter.count >= iter.limit {
		iter.source.Close()
		return false
	}
	if !iter.source.Next() {
		return false
	}
	iter.count++
	return true
}

func (iter *limitIterator[V]) Entry() *Entry[V] {
	return iter.source.Entry()
}

func (iter *limitIterator[V]) Err() error {
	return iter.source.Err()
}

func (iter *limitIterator[V]) Close() {
	iter.source.Close()
}
