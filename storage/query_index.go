/*
* Copyright 2020 Dheeraj R. Reddy.
*
* Copyright 2016 Samsung Research America. All rights reserved.
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* This file has been modified by Dheeraj R. Reddy by being re-written
* in Golang.
 */

package storage

import (
	"sync"

	"histcache/tree"
)

// TimestampIndex is an in-memory index over the distinct timestamps of one
// series, counting the records stored at each.
type TimestampIndex struct {
	timestamps *tree.RbTree[int]
	mutex      sync.RWMutex
}

func NewTimestampIndex() *TimestampIndex {
	return &TimestampIndex{timestamps: tree.NewRbTree[int]()}
}

// LoadTimestampIndex builds the index from what the backend already holds.
func LoadTimestampIndex(backend Backend, seriesID int64) (*TimestampIndex, error) {
	index := NewTimestampIndex()
	err := backend.IterateIndex(seriesID, func(timestamp int64) error {
		index.Add(timestamp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

func (index *TimestampIndex) Add(timestamp int64) {
	index.mutex.Lock()
	defer index.mutex.Unlock()
	count, _ := index.timestamps.Get(timestamp)
	index.timestamps.Insert(timestamp, count+1)
}

func (index *TimestampIndex) Remove(timestamp int64) {
	index.mutex.Lock()
	defer index.mutex.Unlock()
	index.timestamps.Delete(timestamp)
}

func (index *TimestampIndex) Contains(timestamp int64) bool {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	return index.timestamps.Exists(timestamp)
}

// Duplicates returns how many records share the timestamp.
func (index *TimestampIndex) Duplicates(timestamp int64) int {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	count, _ := index.timestamps.Get(timestamp)
	return count
}

func (index *TimestampIndex) Len() int {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	return index.timestamps.Count()
}

// Version changes whenever a timestamp is added or removed.
func (index *TimestampIndex) Version() uint64 {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	return index.timestamps.Version()
}

func (index *TimestampIndex) First() (int64, bool) {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	timestamp, _, ok := index.timestamps.Min()
	return timestamp, ok
}

func (index *TimestampIndex) Last() (int64, bool) {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	timestamp, _, ok := index.timestamps.Max()
	return timestamp, ok
}

func (index *TimestampIndex) Next(timestamp int64) (int64, bool) {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	next, _, ok := index.timestamps.Higher(timestamp)
	return next, ok
}

func (index *TimestampIndex) Previous(timestamp int64) (int64, bool) {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	previous, _, ok := index.timestamps.Lower(timestamp)
	return previous, ok
}

func (index *TimestampIndex) Floor(timestamp int64) (int64, bool) {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	floor, _, ok := index.timestamps.Floor(timestamp)
	return floor, ok
}

// Range returns the timestamps in [t0, t1].
func (index *TimestampIndex) Range(t0 int64, t1 int64) []int64 {
	index.mutex.RLock()
	defer index.mutex.RUnlock()
	timestamps := make([]int64, 0)
	if t1 < t0 {
		return timestamps
	}
	index.timestamps.MapFrom(t0, func(timestamp int64, _ int) bool {
		if timestamp > t1 {
			return true
		}
		timestamps = append(timestamps, timestamp)
		return false
	})
	return timestamps
}
