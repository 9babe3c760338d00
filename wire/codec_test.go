package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashbeam/hashbeam-dht/types"
)

func testHeader(t MessageType) Header {
	return Header{
		Version:     ProtocolVersion,
		Type:        t,
		SourceID:    types.HashKey("source"),
		RandomToken: types.HashKey("token"),
	}
}

func v4Peer(tag string, port uint16) PeerEntry {
	return PeerEntry{
		ID:       types.HashKey(tag),
		Endpoint: netip.AddrPortFrom(netip.AddrFrom4([4]byte{192, 168, 1, 42}), port),
	}
}

func v6Peer(tag string, port uint16) PeerEntry {
	addr := netip.MustParseAddr("2001:db8::7")
	return PeerEntry{
		ID:       types.HashKey(tag),
		Endpoint: netip.AddrPortFrom(addr, port),
	}
}

func Test_Header_Round_Trip(t *testing.T) {
	h := testHeader(FindPeerRequest)
	buf := EncodeMessage(h, FindPeerRequestBody{Target: types.HashKey("target")})

	decoded, payload, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
	require.Len(t, payload, types.IDBytes)
}

func Test_Header_Rejects_Truncation_And_Bad_Version(t *testing.T) {
	buf := EncodeMessage(testHeader(PingRequest), PingRequestBody{})

	for cut := 0; cut < HeaderSize; cut++ {
		_, _, err := DecodeHeader(buf[:cut])
		require.ErrorIs(t, err, ErrCorruptedBody, "cut at %d", cut)
	}

	bad := append([]byte(nil), buf...)
	bad[0] = 99
	_, _, err := DecodeHeader(bad)
	require.ErrorIs(t, err, ErrCorruptedBody)
}

func Test_Ping_Bodies_Are_Empty(t *testing.T) {
	buf := EncodeMessage(testHeader(PingRequest), PingRequestBody{})
	require.Len(t, buf, HeaderSize)

	buf = EncodeMessage(testHeader(PingResponse), PingResponseBody{})
	require.Len(t, buf, HeaderSize)
}

func Test_Store_Request_Round_Trip(t *testing.T) {
	body := StoreRequestBody{Key: types.HashKey("key"), Value: []byte("the value")}
	buf := EncodeMessage(testHeader(StoreRequest), body)

	_, payload, err := DecodeHeader(buf)
	require.NoError(t, err)

	decoded, err := DecodeStoreRequest(payload)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

func Test_Store_Request_Empty_Value_Round_Trip(t *testing.T) {
	body := StoreRequestBody{Key: types.HashKey("key"), Value: []byte{}}
	buf := EncodeMessage(testHeader(StoreRequest), body)

	_, payload, _ := DecodeHeader(buf)
	decoded, err := DecodeStoreRequest(payload)
	require.NoError(t, err)
	require.Empty(t, decoded.Value)
	require.Equal(t, body.Key, decoded.Key)
}

func Test_Find_Peer_Request_Round_Trip(t *testing.T) {
	body := FindPeerRequestBody{Target: types.HashKey("needle")}
	buf := EncodeMessage(testHeader(FindPeerRequest), body)

	_, payload, _ := DecodeHeader(buf)
	decoded, err := DecodeFindPeerRequest(payload)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

func Test_Find_Peer_Response_Round_Trip_Mixed_Families(t *testing.T) {
	body := FindPeerResponseBody{Peers: []PeerEntry{
		v4Peer("p1", 9001),
		v6Peer("p2", 9002),
		v4Peer("p3", 9003),
	}}
	buf := EncodeMessage(testHeader(FindPeerResponse), body)

	_, payload, _ := DecodeHeader(buf)
	decoded, err := DecodeFindPeerResponse(payload)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

func Test_Find_Peer_Response_Empty_Round_Trip(t *testing.T) {
	buf := EncodeMessage(testHeader(FindPeerResponse), FindPeerResponseBody{Peers: []PeerEntry{}})

	_, payload, _ := DecodeHeader(buf)
	decoded, err := DecodeFindPeerResponse(payload)
	require.NoError(t, err)
	require.Empty(t, decoded.Peers)
}

func Test_Find_Peer_Response_Rejects_Unknown_Family(t *testing.T) {
	buf := EncodeMessage(testHeader(FindPeerResponse), FindPeerResponseBody{Peers: []PeerEntry{v4Peer("p", 1)}})
	_, payload, _ := DecodeHeader(buf)

	// the family discriminator sits right after the count and the id
	corrupted := append([]byte(nil), payload...)
	corrupted[8+types.IDBytes] = 5
	_, err := DecodeFindPeerResponse(corrupted)
	require.ErrorIs(t, err, ErrCorruptedBody)
}

func Test_Find_Peer_Response_Rejects_Implausible_Count(t *testing.T) {
	buf := EncodeMessage(testHeader(FindPeerResponse), FindPeerResponseBody{Peers: []PeerEntry{v4Peer("p", 1)}})
	_, payload, _ := DecodeHeader(buf)

	corrupted := append([]byte(nil), payload...)
	for i := 0; i < 8; i++ {
		corrupted[i] = 0xFF // count becomes 2^64-1
	}
	_, err := DecodeFindPeerResponse(corrupted)
	require.ErrorIs(t, err, ErrCorruptedBody)
}

func Test_Find_Value_Request_Round_Trip(t *testing.T) {
	body := FindValueRequestBody{Key: types.HashKey("needle")}
	buf := EncodeMessage(testHeader(FindValueRequest), body)

	_, payload, _ := DecodeHeader(buf)
	decoded, err := DecodeFindValueRequest(payload)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

func Test_Find_Value_Response_Round_Trip(t *testing.T) {
	body := FindValueResponseBody{Value: []byte("found it")}
	buf := EncodeMessage(testHeader(FindValueResponse), body)

	_, payload, _ := DecodeHeader(buf)
	decoded, err := DecodeFindValueResponse(payload)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

func Test_Truncated_Bodies_Are_Corrupted_Not_Panics(t *testing.T) {
	full := EncodeMessage(testHeader(StoreRequest), StoreRequestBody{
		Key:   types.HashKey("key"),
		Value: []byte("0123456789"),
	})
	_, payload, err := DecodeHeader(full)
	require.NoError(t, err)

	for cut := 0; cut < len(payload); cut++ {
		_, err := DecodeStoreRequest(payload[:cut])
		require.ErrorIs(t, err, ErrCorruptedBody, "cut at %d", cut)
	}

	peers := EncodeMessage(testHeader(FindPeerResponse), FindPeerResponseBody{Peers: []PeerEntry{
		v4Peer("p1", 1), v6Peer("p2", 2),
	}})
	_, payload, err = DecodeHeader(peers)
	require.NoError(t, err)

	for cut := 0; cut < len(payload); cut++ {
		_, err := DecodeFindPeerResponse(payload[:cut])
		require.ErrorIs(t, err, ErrCorruptedBody, "cut at %d", cut)
	}
}

func Test_Declared_Length_Beyond_Buffer_Is_Corrupted(t *testing.T) {
	buf := EncodeMessage(testHeader(FindValueResponse), FindValueResponseBody{Value: []byte("abc")})
	_, payload, _ := DecodeHeader(buf)

	corrupted := append([]byte(nil), payload...)
	corrupted[0] = 200 // declared length far beyond the three real bytes
	_, err := DecodeFindValueResponse(corrupted)
	require.ErrorIs(t, err, ErrCorruptedBody)
}
