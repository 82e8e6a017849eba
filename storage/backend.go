package storage

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"histcache/tree"
)

var ErrClosed = errors.New("storage: backend closed")

const (
	seriesLength    = 8
	timestampLength = 8
	sequenceLength  = 8
	keyLength       = seriesLength + timestampLength + sequenceLength
)

// Keys are big-endian with the sign bit flipped so that byte order matches
// numeric order for negative timestamps as well.
func orderedUint64(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

func fromOrderedUint64(v uint64) int64 {
	return int64(v ^ (1 << 63))
}

func GetSeriesPrefix(seriesID int64) []byte {
	buf := make([]byte, seriesLength)
	binary.BigEndian.PutUint64(buf, orderedUint64(seriesID))
	return buf
}

func GetTimestampPrefix(seriesID, timestamp int64) []byte {
	buf := make([]byte, seriesLength+timestampLength)
	binary.BigEndian.PutUint64(buf[:8], orderedUint64(seriesID))
	binary.BigEndian.PutUint64(buf[8:], orderedUint64(timestamp))
	return buf
}

func GetKey(seriesID, timestamp int64, seq uint64) []byte {
	buf := make([]byte, keyLength)

	// <8 bytes series ID> <8 bytes timestamp> <8 bytes duplicate sequence>
	binary.BigEndian.PutUint64(buf[:8], orderedUint64(seriesID))
	binary.BigEndian.PutUint64(buf[8:16], orderedUint64(timestamp))
	binary.BigEndian.PutUint64(buf[16:], seq)

	return buf
}

func GetSeriesIDFromKey(buf []byte) int64 {
	return fromOrderedUint64(binary.BigEndian.Uint64(buf[:8]))
}

func GetTimestampFromKey(buf []byte) int64 {
	return fromOrderedUint64(binary.BigEndian.Uint64(buf[8:16]))
}

func GetSequenceFromKey(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf[16:])
}

// Record is one stored observation. Several records may share a timestamp;
// Seq orders them by arrival.
type Record struct {
	Timestamp int64
	Seq       uint64
	Value     []byte
}

// RecordIterator is a pull cursor over the records of one series.
type RecordIterator interface {
	Next() bool
	Record() Record
	Err() error
	Close()
}

type Backend interface {
	// Append stores buf under (seriesID, timestamp) after any records
	// already present at that timestamp.
	Append(seriesID, timestamp int64, buf []byte) error
	// Floor returns the last record at the greatest timestamp <= timestamp.
	Floor(seriesID, timestamp int64) (*Record, error)
	// NewIterator walks the series starting at from, ascending unless
	// reverse is set. In reverse order duplicates come newest first.
	NewIterator(seriesID, from int64, reverse bool) (RecordIterator, error)
	// Delete removes every record at the timestamp.
	Delete(seriesID, timestamp int64) error
	// IterateIndex calls lambda once per distinct timestamp, ascending.
	IterateIndex(seriesID int64, lambda func(int64) error) error

	Close() error
}

type InMemoryBackend struct {
	series map[int64]*tree.RbTree[[]Record]
	mutex  sync.Mutex
	closed bool
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		series: make(map[int64]*tree.RbTree[[]Record]),
	}
}

func (backend *InMemoryBackend) getSeries(seriesID int64, create bool) (*tree.RbTree[[]Record], error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if backend.closed {
		return nil, ErrClosed
	}
	records, ok := backend.series[seriesID]
	if !ok && create {
		records = tree.NewRbTree[[]Record]()
		backend.series[seriesID] = records
	}
	return records, nil
}

func (backend *InMemoryBackend) Append(seriesID, timestamp int64, buf []byte) error {
	records, err := backend.getSeries(seriesID, true)
	if err != nil {
		return err
	}

	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	existing, _ := records.Get(timestamp)
	// copy on write, open iterators keep reading their own slice
	updated := make([]Record, len(existing), len(existing)+1)
	copy(updated, existing)
	updated = append(updated, Record{
		Timestamp: timestamp,
		Seq:       uint64(len(existing)),
		Value:     buf,
	})
	records.Insert(timestamp, updated)
	return nil
}

func (backend *InMemoryBackend) Floor(seriesID, timestamp int64) (*Record, error) {
	records, err := backend.getSeries(seriesID, false)
	if err != nil || records == nil {
		return nil, err
	}
	_, duplicates, ok := records.Floor(timestamp)
	if !ok || len(duplicates) == 0 {
		return nil, nil
	}
	record := duplicates[len(duplicates)-1]
	return &record, nil
}

func (backend *InMemoryBackend) NewIterator(seriesID, from int64, reverse bool) (RecordIterator, error) {
	records, err := backend.getSeries(seriesID, false)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = tree.NewRbTree[[]Record]()
	}
	return &inMemoryIterator{
		records: records,
		from:    from,
		reverse: reverse,
	}, nil
}

func (backend *InMemoryBackend) Delete(seriesID, timestamp int64) error {
	records, err := backend.getSeries(seriesID, false)
	if err != nil || records == nil {
		return err
	}
	records.Delete(timestamp)
	return nil
}

func (backend *InMemoryBackend) IterateIndex(seriesID int64, lambda func(int64) error) error {
	records, err := backend.getSeries(seriesID, false)
	if err != nil || records == nil {
		return err
	}

	var lambdaErr error
	records.Map(func(timestamp int64, _ []Record) bool {
		lambdaErr = lambda(timestamp)
		return lambdaErr != nil
	})
	return lambdaErr
}

func (backend *InMemoryBackend) Close() error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.series = nil
	backend.closed = true
	return nil
}

// inMemoryIterator re-seeks the tree on every timestamp change, so inserts
// made while iterating are seen if they lie ahead of the cursor.
type inMemoryIterator struct {
	records    *tree.RbTree[[]Record]
	from       int64
	reverse    bool
	started    bool
	done       bool
	timestamp  int64
	duplicates []Record
	position   int
	current    Record
}

func (iter *inMemoryIterator) seek() bool {
	var (
		timestamp  int64
		duplicates []Record
		ok         bool
	)
	switch {
	case !iter.started && iter.reverse:
		timestamp, duplicates, ok = iter.records.Floor(iter.from)
	case !iter.started:
		timestamp, duplicates, ok = iter.records.Ceiling(iter.from)
	case iter.reverse:
		if iter.timestamp == math.MinInt64 {
			return false
		}
		timestamp, duplicates, ok = iter.records.Lower(iter.timestamp)
	default:
		if iter.timestamp == math.MaxInt64 {
			return false
		}
		timestamp, duplicates, ok = iter.records.Higher(iter.timestamp)
	}
	iter.started = true
	if !ok {
		return false
	}
	iter.timestamp = timestamp
	iter.duplicates = duplicates
	iter.position = 0
	return true
}

func (iter *inMemoryIterator) Next() bool {
	if iter.done {
		return false
	}
	for !iter.started || iter.position >= len(iter.duplicates) {
		if !iter.seek() {
			iter.done = true
			return false
		}
	}

	index := iter.position
	if iter.reverse {
		index = len(iter.duplicates) - 1 - iter.position
	}
	iter.current = iter.duplicates[index]
	iter.position++
	return true
}

func (iter *inMemoryIterator) Record() Record {
	return iter.current
}

func (iter *inMemoryIterator) Err() error {
	return nil
}

func (iter *inMemoryIterator) Close() {
	iter.done = true
	iter.duplicates = nil
}
