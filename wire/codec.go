package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/hashbeam/hashbeam-dht/types"
)

// ErrCorruptedBody is returned for any truncated frame, unknown endpoint
// family or version mismatch. Callers drop the datagram; decoding never
// panics.
var ErrCorruptedBody = errors.New("wire: corrupted body")

const (
	familyIPv4 byte = 4
	familyIPv6 byte = 6
)

// EncodeMessage serializes header plus body into a fresh buffer.
func EncodeMessage(h Header, body Body) []byte {
	dst := make([]byte, 0, HeaderSize+64)
	dst = append(dst, h.Version, byte(h.Type))
	dst = append(dst, h.SourceID[:]...)
	dst = append(dst, h.RandomToken[:]...)
	return body.appendTo(dst)
}

// DecodeHeader splits a datagram into its header and the remaining body
// bytes.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: short header (%d bytes)", ErrCorruptedBody, len(data))
	}
	if data[0] != ProtocolVersion {
		return Header{}, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptedBody, data[0])
	}

	var h Header
	h.Version = data[0]
	h.Type = MessageType(data[1])
	copy(h.SourceID[:], data[2:2+types.IDBytes])
	copy(h.RandomToken[:], data[2+types.IDBytes:HeaderSize])
	return h, data[HeaderSize:], nil
}

func (PingRequestBody) appendTo(dst []byte) []byte  { return dst }
func (PingResponseBody) appendTo(dst []byte) []byte { return dst }

func (b StoreRequestBody) appendTo(dst []byte) []byte {
	dst = append(dst, b.Key[:]...)
	return appendBytes(dst, b.Value)
}

func (b FindPeerRequestBody) appendTo(dst []byte) []byte {
	return append(dst, b.Target[:]...)
}

func (b FindPeerResponseBody) appendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(b.Peers)))
	for _, p := range b.Peers {
		dst = appendPeer(dst, p)
	}
	return dst
}

func (b FindValueRequestBody) appendTo(dst []byte) []byte {
	return append(dst, b.Key[:]...)
}

func (b FindValueResponseBody) appendTo(dst []byte) []byte {
	return appendBytes(dst, b.Value)
}

func DecodeStoreRequest(payload []byte) (StoreRequestBody, error) {
	r := reader{buf: payload}
	var b StoreRequestBody
	var err error
	if b.Key, err = r.id(); err != nil {
		return StoreRequestBody{}, err
	}
	if b.Value, err = r.lengthPrefixedBytes(); err != nil {
		return StoreRequestBody{}, err
	}
	return b, nil
}

func DecodeFindPeerRequest(payload []byte) (FindPeerRequestBody, error) {
	r := reader{buf: payload}
	target, err := r.id()
	if err != nil {
		return FindPeerRequestBody{}, err
	}
	return FindPeerRequestBody{Target: target}, nil
}

func DecodeFindPeerResponse(payload []byte) (FindPeerResponseBody, error) {
	r := reader{buf: payload}
	count, err := r.u64()
	if err != nil {
		return FindPeerResponseBody{}, err
	}
	// the smallest possible wire peer is id + family + 4 address bytes + port
	if count > uint64(len(r.buf))/27+1 {
		return FindPeerResponseBody{}, fmt.Errorf("%w: implausible peer count %d", ErrCorruptedBody, count)
	}

	b := FindPeerResponseBody{Peers: make([]PeerEntry, 0, count)}
	for i := uint64(0); i < count; i++ {
		p, err := r.peer()
		if err != nil {
			return FindPeerResponseBody{}, err
		}
		b.Peers = append(b.Peers, p)
	}
	return b, nil
}

func DecodeFindValueRequest(payload []byte) (FindValueRequestBody, error) {
	r := reader{buf: payload}
	key, err := r.id()
	if err != nil {
		return FindValueRequestBody{}, err
	}
	return FindValueRequestBody{Key: key}, nil
}

func DecodeFindValueResponse(payload []byte) (FindValueResponseBody, error) {
	r := reader{buf: payload}
	v, err := r.lengthPrefixedBytes()
	if err != nil {
		return FindValueResponseBody{}, err
	}
	return FindValueResponseBody{Value: v}, nil
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(b)))
	return append(dst, b...)
}

func appendPeer(dst []byte, p PeerEntry) []byte {
	dst = append(dst, p.ID[:]...)
	addr := p.Endpoint.Addr().Unmap()
	if addr.Is4() {
		a := addr.As4()
		dst = append(dst, familyIPv4)
		dst = append(dst, a[:]...)
	} else {
		a := addr.As16()
		dst = append(dst, familyIPv6)
		dst = append(dst, a[:]...)
	}
	return binary.LittleEndian.AppendUint16(dst, p.Endpoint.Port())
}

// reader walks a body buffer, reporting every shortfall as ErrCorruptedBody.
type reader struct {
	buf []byte
}

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrCorruptedBody, n, len(r.buf))
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *reader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) id() (types.NodeID, error) {
	b, err := r.take(types.IDBytes)
	if err != nil {
		return types.NodeID{}, err
	}
	var id types.NodeID
	copy(id[:], b)
	return id, nil
}

func (r *reader) lengthPrefixedBytes() ([]byte, error) {
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)) {
		return nil, fmt.Errorf("%w: declared length %d exceeds %d remaining", ErrCorruptedBody, n, len(r.buf))
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *reader) peer() (PeerEntry, error) {
	var p PeerEntry
	var err error
	if p.ID, err = r.id(); err != nil {
		return PeerEntry{}, err
	}

	family, err := r.u8()
	if err != nil {
		return PeerEntry{}, err
	}

	var addr netip.Addr
	switch family {
	case familyIPv4:
		b, err := r.take(4)
		if err != nil {
			return PeerEntry{}, err
		}
		var a [4]byte
		copy(a[:], b)
		addr = netip.AddrFrom4(a)
	case familyIPv6:
		b, err := r.take(16)
		if err != nil {
			return PeerEntry{}, err
		}
		var a [16]byte
		copy(a[:], b)
		addr = netip.AddrFrom16(a)
	default:
		return PeerEntry{}, fmt.Errorf("%w: unknown endpoint family %d", ErrCorruptedBody, family)
	}

	port, err := r.u16()
	if err != nil {
		return PeerEntry{}, err
	}
	p.Endpoint = netip.AddrPortFrom(addr, port)
	return p, nil
}
