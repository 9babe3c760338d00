package wire

import (
	"net/netip"

	"github.com/hashbeam/hashbeam-dht/types"
)

// ProtocolVersion is carried in every header; frames with any other version
// are dropped as corrupted.
const ProtocolVersion byte = 1

// HeaderSize is the fixed size of the encoded header: version, type and two
// raw 20-byte ids.
const HeaderSize = 2 + 2*types.IDBytes

// MessageType discriminates the body following the header.
type MessageType byte

const (
	PingRequest MessageType = iota
	PingResponse
	StoreRequest
	FindPeerRequest
	FindPeerResponse
	FindValueRequest
	FindValueResponse
)

func (t MessageType) String() string {
	switch t {
	case PingRequest:
		return "PING_REQUEST"
	case PingResponse:
		return "PING_RESPONSE"
	case StoreRequest:
		return "STORE_REQUEST"
	case FindPeerRequest:
		return "FIND_PEER_REQUEST"
	case FindPeerResponse:
		return "FIND_PEER_RESPONSE"
	case FindValueRequest:
		return "FIND_VALUE_REQUEST"
	case FindValueResponse:
		return "FIND_VALUE_RESPONSE"
	}
	return "UNKNOWN"
}

// Header - The fixed-size frame prefix shared by every message. The random
// token correlates a response with the request that caused it.
type Header struct {
	Version     byte
	Type        MessageType
	SourceID    types.NodeID
	RandomToken types.NodeID
}

// Body is implemented by every message body that can follow a header.
type Body interface {
	MessageType() MessageType
	appendTo(dst []byte) []byte
}

// PeerEntry - The wire form of a peer: id plus endpoint. The endpoint is
// serialized as a family discriminator (4 or 6), the raw address bytes and a
// little-endian port. IPv6 zones never cross the wire.
type PeerEntry struct {
	ID       types.NodeID
	Endpoint netip.AddrPort
}

type PingRequestBody struct{}

func (PingRequestBody) MessageType() MessageType { return PingRequest }

type PingResponseBody struct{}

func (PingResponseBody) MessageType() MessageType { return PingResponse }

type StoreRequestBody struct {
	Key   types.NodeID
	Value []byte
}

func (StoreRequestBody) MessageType() MessageType { return StoreRequest }

type FindPeerRequestBody struct {
	Target types.NodeID
}

func (FindPeerRequestBody) MessageType() MessageType { return FindPeerRequest }

type FindPeerResponseBody struct {
	Peers []PeerEntry
}

func (FindPeerResponseBody) MessageType() MessageType { return FindPeerResponse }

type FindValueRequestBody struct {
	Key types.NodeID
}

func (FindValueRequestBody) MessageType() MessageType { return FindValueRequest }

type FindValueResponseBody struct {
	Value []byte
}

func (FindValueResponseBody) MessageType() MessageType { return FindValueResponse }
