package storage

import (
	"bytes"
	"math"

	"github.com/dgraph-io/badger/v2"
)

func TestBadgerDB() *badger.DB {
	option := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(option)
	if err != nil {
		panic(err)
	}
	return db
}

// OpenBadgerDB opens (or creates) an on-disk series store. An empty dir
// gives an in-memory store.
func OpenBadgerDB(dir string) (*badger.DB, error) {
	option := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		option = option.WithInMemory(true)
	}
	return badger.Open(option)
}

type BadgerBackend struct {
	db *badger.DB
}

func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

func (backend *BadgerBackend) Close() error {
	return backend.db.Close()
}

func nextSequence(txn *badger.Txn, seriesID, timestamp int64) (uint64, error) {
	prefix := GetTimestampPrefix(seriesID, timestamp)
	iter := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, Reverse: true})
	defer iter.Close()

	iter.Seek(GetKey(seriesID, timestamp, math.MaxUint64))
	if !iter.ValidForPrefix(prefix) {
		return 0, nil
	}
	return GetSequenceFromKey(iter.Item().Key()) + 1, nil
}

func (backend *BadgerBackend) Append(seriesID, timestamp int64, buf []byte) error {
	return backend.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSequence(txn, seriesID, timestamp)
		if err != nil {
			return err
		}
		return txn.Set(GetKey(seriesID, timestamp, seq), buf)
	})
}

func itemToRecord(item *badger.Item) (Record, error) {
	key := item.Key()
	value, err := item.ValueCopy(nil)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Timestamp: GetTimestampFromKey(key),
		Seq:       GetSequenceFromKey(key),
		Value:     value,
	}, nil
}

func (backend *BadgerBackend) Floor(seriesID, timestamp int64) (*Record, error) {
	var record *Record
	prefix := GetSeriesPrefix(seriesID)
	err := backend.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, Reverse: true})
		defer iter.Close()

		iter.Seek(GetKey(seriesID, timestamp, math.MaxUint64))
		if !iter.ValidForPrefix(prefix) {
			return nil
		}
		found, err := itemToRecord(iter.Item())
		if err != nil {
			return err
		}
		record = &found
		return nil
	})
	return record, err
}

func (backend *BadgerBackend) Delete(seriesID, timestamp int64) error {
	prefix := GetTimestampPrefix(seriesID, timestamp)
	return backend.db.Update(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		keys := make([][]byte, 0)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (backend *BadgerBackend) IterateIndex(seriesID int64, lambda func(int64) error) error {
	prefix := GetSeriesPrefix(seriesID)
	iterOpts := badger.IteratorOptions{Prefix: prefix}
	return backend.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(iterOpts)
		defer iter.Close()

		var last []byte
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			key := iter.Item().Key()
			// duplicates share the first 16 bytes
			if last != nil && bytes.Equal(last, key[:seriesLength+timestampLength]) {
				continue
			}
			last = append(last[:0], key[:seriesLength+timestampLength]...)
			if err := lambda(GetTimestampFromKey(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (backend *BadgerBackend) NewIterator(seriesID, from int64, reverse bool) (RecordIterator, error) {
	prefix := GetSeriesPrefix(seriesID)
	txn := backend.db.NewTransaction(false)
	iter := txn.NewIterator(badger.IteratorOptions{
		Prefix:         prefix,
		Reverse:        reverse,
		PrefetchValues: true,
		PrefetchSize:   16,
	})

	seekKey := GetKey(seriesID, from, 0)
	if reverse {
		seekKey = GetKey(seriesID, from, math.MaxUint64)
	}
	return &badgerIterator{
		txn:     txn,
		iter:    iter,
		prefix:  prefix,
		seekKey: seekKey,
	}, nil
}

// badgerIterator holds a read-only transaction open until Close.
type badgerIterator struct {
	txn     *badger.Txn
	iter    *badger.Iterator
	prefix  []byte
	seekKey []byte
	started bool
	closed  bool
	current Record
	err     error
}

func (iter *badgerIterator) Next() bool {
	if iter.closed || iter.err != nil {
		return false
	}
	if !iter.started {
		iter.iter.Seek(iter.seekKey)
		iter.started = true
	} else {
		iter.iter.Next()
	}
	if !iter.iter.ValidForPrefix(iter.prefix) {
		iter.Close()
		return false
	}

	iter.current, iter.err = itemToRecord(iter.iter.Item())
	if iter.err != nil {
		iter.Close()
		return false
	}
	return true
}

func (iter *badgerIterator) Record() Record {
	return iter.current
}

func (iter *badgerIterator) Err() error {
	return iter.err
}

func (iter *badgerIterator) Close() {
	if iter.closed {
		return
	}
	iter.closed = true
	iter.iter.Close()
	iter.txn.Discard()
}
