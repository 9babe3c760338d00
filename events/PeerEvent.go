package events

import (
	"net/netip"
	"time"

	"github.com/hashbeam/hashbeam-dht/types"
)

// PeerEvent - Describes a peer newly admitted to the routing table.
type PeerEvent struct {
	ID         types.NodeID
	Endpoint   netip.AddrPort
	ObservedAt time.Time
}

// ValueEvent - Describes a value applied to the local store on behalf of
// the network.
type ValueEvent struct {
	Key      types.NodeID
	Size     int
	StoredAt time.Time
}
