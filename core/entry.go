package core

import "fmt"

// Entry is an immutable (key, value) pair produced by a load.
type Entry[V any] struct {
	key   TimeKey
	value V
}

func NewEntry[V any](key TimeKey, value V) *Entry[V] {
	return &Entry[V]{key: key.withIndex(), value: value}
}

func (entry *Entry[V]) Key() TimeKey {
	return entry.key
}

func (entry *Entry[V]) Value() V {
	return entry.value
}

func (entry *Entry[V]) String() string {
	return fmt.Sprintf("%s -> %v", entry.key, entry.value)
}
