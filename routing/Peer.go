package routing

import (
	"net/netip"
	"time"

	"github.com/hashbeam/hashbeam-dht/types"
)

// Peer - Represents a known peer in the DHT network.
type Peer struct {
	ID       types.NodeID
	Endpoint netip.AddrPort
	LastSeen time.Time
}
