package routing

import (
	"slices"

	"github.com/hashbeam/hashbeam-dht/types"
)

// KBucket - Models a single Kademlia K-Bucket. Peers are kept in observation
// order: index 0 is the least recently seen peer, the last index the most
// recently seen one.
type KBucket struct {
	Peers []*Peer
}

// Size - Returns the number of peers in this bucket.
func (kb *KBucket) Size() int {
	return len(kb.Peers)
}

// IndexOf - Returns the position of the peer with the given id, or -1.
func (kb *KBucket) IndexOf(id types.NodeID) int {
	for i, p := range kb.Peers {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Remove - Removes the peer from this bucket at the specified index.
func (kb *KBucket) Remove(index int) bool {
	if index < 0 || index >= len(kb.Peers) {
		return false
	}

	kb.Peers = slices.Delete(kb.Peers, index, index+1)
	return true
}

// Clear - Clears all peers from this bucket.
func (kb *KBucket) Clear() {
	kb.Peers = nil
}

// moveToTail shifts the peer at index to the most-recently-seen slot.
func (kb *KBucket) moveToTail(index int) {
	if index < 0 || index >= len(kb.Peers)-1 {
		return
	}
	p := kb.Peers[index]
	copy(kb.Peers[index:], kb.Peers[index+1:])
	kb.Peers[len(kb.Peers)-1] = p
}
