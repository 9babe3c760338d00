package events

// NodeEventListener - Receives notifications about observable state changes
// of a node. Callbacks run on the node's reactor goroutine and must return
// promptly; anything slow belongs on a goroutine of the listener's own.
type NodeEventListener interface {

	//OnPeerAdded is called when the routing table admits a peer it had not seen before. Re-observations of known peers refresh their position silently and do not produce an event.
	OnPeerAdded(event PeerEvent)

	//OnValueStored is called when a STORE request from the network is applied to the local value store.
	OnValueStored(event ValueEvent)
}
