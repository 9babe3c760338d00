package store

import (
	"github.com/hashbeam/hashbeam-dht/types"
)

// ValueStore - The local in-memory portion of the distributed map. Entries
// are keyed by id and overwrite blindly: last writer wins.
//
// Like the routing table, the store is confined to the engine's reactor
// goroutine and carries no synchronization of its own.
type ValueStore struct {
	values map[types.NodeID][]byte
}

func NewValueStore() *ValueStore {
	return &ValueStore{values: make(map[types.NodeID][]byte)}
}

// Put - Records the value under key, replacing any previous value. The input
// slice is copied so later caller mutation cannot reach the store.
func (vs *ValueStore) Put(key types.NodeID, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	vs.values[key] = v
}

// Get - Returns a copy of the value recorded under key, where present.
func (vs *ValueStore) Get(key types.NodeID) ([]byte, bool) {
	v, ok := vs.values[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Len - Returns the number of stored entries.
func (vs *ValueStore) Len() int {
	return len(vs.values)
}
