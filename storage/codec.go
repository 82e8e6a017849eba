package storage

import (
	"errors"
	"fmt"
	"math"

	capnp "zombiezen.com/go/capnproto2"
)

var ErrCorruptRecord = errors.New("storage: corrupt record")

// Codec converts series values to and from their stored bytes.
type Codec[V any] interface {
	Encode(timestamp int64, value V) ([]byte, error)
	Decode(buf []byte) (int64, V, error)
}

// Float64Codec stores a sample as a single capnp struct with two data
// words: the timestamp and the IEEE-754 bits of the value.
type Float64Codec struct{}

var float64RecordSize = capnp.ObjectSize{DataSize: 16, PointerCount: 0}

func (Float64Codec) Encode(timestamp int64, value float64) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, err
	}

	record, err := capnp.NewRootStruct(seg, float64RecordSize)
	if err != nil {
		return nil, err
	}
	record.SetUint64(0, uint64(timestamp))
	record.SetUint64(8, math.Float64bits(value))

	return msg.Marshal()
}

func (Float64Codec) Decode(buf []byte) (int64, float64, error) {
	msg, err := capnp.Unmarshal(buf)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	root, err := msg.RootPtr()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	record := root.Struct()
	timestamp := int64(record.Uint64(0))
	value := math.Float64frombits(record.Uint64(8))
	return timestamp, value, nil
}
