package routing

import (
	"math/bits"
	"net/netip"
	"sort"
	"time"

	"github.com/hashbeam/hashbeam-dht/types"
)

// RoutingTable - Models a Kademlia compliant routing table. It contains one
// K-Bucket per bit of the id space; buckets are arranged according to their
// respective XOR distance from the local node.
//
// The table is confined to the owning engine's reactor goroutine and is
// therefore unsynchronized.
type RoutingTable struct {
	self       types.NodeID
	buckets    []KBucket
	bucketSize int
}

func NewRoutingTable(self types.NodeID, bucketSize int) *RoutingTable {
	if bucketSize <= 0 {
		bucketSize = 20 // a good default
	}
	rt := &RoutingTable{
		self:       self,
		buckets:    make([]KBucket, types.IDBits), // 160 buckets
		bucketSize: bucketSize,
	}
	return rt
}

// Push - Upserts (i.e Updates or Inserts) a peer in the correct bucket.
// A peer that is already present is refreshed and moved to the
// most-recently-seen end of its bucket. A new peer is appended when the
// bucket has capacity and silently dropped otherwise; the stalest entry
// is deliberately never probed or evicted.
//
// The returned boolean reports whether a new entry was inserted.
func (rt *RoutingTable) Push(id types.NodeID, endpoint netip.AddrPort) bool {
	i := rt.bucketIndex(rt.self, id)
	if i < 0 {
		// self, never tracked
		return false
	}

	b := &rt.buckets[i]
	now := time.Now()

	// already present? refresh + move to end (most recently seen)
	if idx := b.IndexOf(id); idx >= 0 {
		p := b.Peers[idx]
		if endpoint.IsValid() && p.Endpoint != endpoint {
			p.Endpoint = endpoint
		}
		p.LastSeen = now
		b.moveToTail(idx)
		return false
	}

	if !endpoint.IsValid() {
		return false
	}

	if len(b.Peers) < rt.bucketSize {
		b.Peers = append(b.Peers, &Peer{ID: id, Endpoint: endpoint, LastSeen: now})
		return true
	}

	// bucket full: the newcomer loses
	return false
}

// Remove - Explicitly removes the node with the specified id from this
// routing table instance, where it exists. Returns TRUE where the target
// entry was located and expunged and FALSE otherwise.
func (rt *RoutingTable) Remove(id types.NodeID) bool {
	i := rt.bucketIndex(rt.self, id)
	if i < 0 {
		return false
	}

	b := &rt.buckets[i]
	idx := b.IndexOf(id)
	if idx < 0 {
		return false
	}
	return b.Remove(idx)
}

// GetEndpoint - Returns the endpoint recorded for the given id, where known.
func (rt *RoutingTable) GetEndpoint(id types.NodeID) (netip.AddrPort, bool) {
	i := rt.bucketIndex(rt.self, id)
	if i < 0 {
		return netip.AddrPort{}, false
	}

	b := &rt.buckets[i]
	if idx := b.IndexOf(id); idx >= 0 {
		return b.Peers[idx].Endpoint, true
	}
	return netip.AddrPort{}, false
}

func (rt *RoutingTable) ListKnownPeers() []Peer {
	peers := make([]Peer, 0, 64)
	for i := range rt.buckets {
		for _, p := range rt.buckets[i].Peers {
			peers = append(peers, *p)
		}
	}
	return peers
}

// Closest - Returns up to count peers in ascending XOR distance to target,
// across all buckets. Peers at equal distance keep their insertion order.
func (rt *RoutingTable) Closest(target types.NodeID, count int) []Peer {
	all := make([]Peer, 0, 64)
	for i := range rt.buckets {
		for _, p := range rt.buckets[i].Peers {
			all = append(all, *p)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return types.CompareDistance(all[i].ID, all[j].ID, target) < 0
	})

	if count > len(all) {
		count = len(all)
	}
	return all[:count]
}

// BucketSizes - Returns the occupancy of every bucket, closest last. Used by
// diagnostics only.
func (rt *RoutingTable) BucketSizes() []int {
	sizes := make([]int, len(rt.buckets))
	for i := range rt.buckets {
		sizes[i] = rt.buckets[i].Size()
	}
	return sizes
}

// bucketIndex returns the bucket number for other relative to self: the
// position of the highest-order differing bit, with 0 meaning the most
// significant bit. -1 means the ids are equal.
func (rt *RoutingTable) bucketIndex(self, other types.NodeID) int {
	d := self.XOR(other)
	if d.IsZero() {
		return -1
	}

	// count leading zeros in big-endian distance
	leading := 0
	for i := 0; i < types.IDBytes; i++ {
		if d[i] == 0 {
			leading += 8
			continue
		}
		leading += bits.LeadingZeros8(d[i])
		break
	}
	return leading
}
