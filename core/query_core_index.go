package core

import "sync"

// OwnerID identifies a query core within its cache. Zero is never issued.
type OwnerID uint32

// QueryCoreIndex is a memoized window position. It is only meaningful while
// Generation equals the owner's current window generation.
type QueryCoreIndex struct {
	Generation uint64
	Cursor     int
}

type identityIndex struct {
	owner OwnerID
	index QueryCoreIndex
}

const indexSlots = 2

// IndexedKey holds up to two owner-tagged indexes. A put for an unknown
// owner overwrites slots round-robin.
type IndexedKey struct {
	mutex sync.Mutex
	slots [indexSlots]identityIndex
	next  int
}

func (key *IndexedKey) GetIndex(owner OwnerID) (QueryCoreIndex, bool) {
	key.mutex.Lock()
	defer key.mutex.Unlock()
	for i := range key.slots {
		if key.slots[i].owner == owner && owner != 0 {
			return key.slots[i].index, true
		}
	}
	return QueryCoreIndex{}, false
}

func (key *IndexedKey) PutIndex(owner OwnerID, index QueryCoreIndex) {
	if owner == 0 {
		return
	}
	key.mutex.Lock()
	defer key.mutex.Unlock()
	for i := range key.slots {
		if key.slots[i].owner == owner {
			key.slots[i].index = index
			return
		}
	}
	key.slots[key.next] = identityIndex{owner: owner, index: index}
	key.next = (key.next + 1) % indexSlots
}
