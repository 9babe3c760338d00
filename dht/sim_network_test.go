package dht

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/hashbeam/hashbeam-dht/config"
	"github.com/hashbeam/hashbeam-dht/netx"
	"github.com/hashbeam/hashbeam-dht/reactor"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

/*****************************************************************************************************************
 *                                      IN-MEMORY TEST NETWORK
 *
 * A LOOPBACK DATAGRAM HUB THAT STANDS IN FOR THE UDP SOCKETS. IT PRESERVES
 * UDP SEMANTICS: DATAGRAMS TO UNKNOWN OR CLOSED ENDPOINTS ARE DROPPED ON
 * THE FLOOR AND DELIVERY ORDER IS PER SENDER/RECEIVER PAIR.
 ******************************************************************************************************************/

type simPacket struct {
	from netip.AddrPort
	data []byte
}

type simHub struct {
	mu       sync.Mutex
	socks    map[netip.AddrPort]*simSocket
	trace    func(from, to netip.AddrPort, data []byte)
	nextPort uint16
}

func newSimHub() *simHub {
	return &simHub{
		socks:    make(map[netip.AddrPort]*simSocket),
		nextPort: 40000,
	}
}

// setTrace installs a callback observing every datagram crossing the hub.
// The callback runs on the sender's goroutine and must be thread-safe.
func (h *simHub) setTrace(fn func(from, to netip.AddrPort, data []byte)) {
	h.mu.Lock()
	h.trace = fn
	h.mu.Unlock()
}

func (h *simHub) socket() *simSocket {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextPort++
	s := &simSocket{
		hub:    h,
		local:  netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), h.nextPort),
		in:     make(chan simPacket, 512),
		closed: make(chan struct{}),
	}
	h.socks[s.local] = s
	return s
}

type simSocket struct {
	hub       *simHub
	local     netip.AddrPort
	in        chan simPacket
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *simSocket) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	select {
	case pkt := <-s.in:
		n := copy(p, pkt.data)
		return n, pkt.from, nil
	case <-s.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (s *simSocket) WriteTo(p []byte, to netip.AddrPort) (int, error) {
	s.hub.mu.Lock()
	dst := s.hub.socks[to]
	trace := s.hub.trace
	s.hub.mu.Unlock()

	if trace != nil {
		trace(s.local, to, append([]byte(nil), p...))
	}
	if dst == nil {
		return len(p), nil // nobody home, silently lost like UDP
	}

	data := append([]byte(nil), p...)
	select {
	case dst.in <- simPacket{from: s.local, data: data}:
	case <-dst.closed:
	default:
	}
	return len(p), nil
}

func (s *simSocket) LocalEndpoint() netip.AddrPort {
	return s.local
}

func (s *simSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.hub.mu.Lock()
		delete(s.hub.socks, s.local)
		s.hub.mu.Unlock()
	})
	return nil
}

var _ netx.PacketSocket = (*simSocket)(nil)

/*****************************************************************************************************************
 *                                      TEST NODES AND RAW PEERS
 ******************************************************************************************************************/

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PeerLookupTimeout = 300 * time.Millisecond
	cfg.InitialContactReceiveTimeout = 100 * time.Millisecond
	return cfg
}

// testNode is a full engine wired to a hub socket.
type testNode struct {
	sock    *simSocket
	re      *reactor.Reactor
	network *netx.Network
	engine  *Engine
}

func newTestEngine(t *testing.T, hub *simHub, cfg config.Config) *testNode {
	t.Helper()

	sock := hub.socket()
	network, err := netx.NewNetwork(sock, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	re := reactor.New(nil)
	re.Start()
	engine := NewEngine(re, network, cfg, nil, nil)

	t.Cleanup(func() {
		network.Close()
		re.Stop()
	})
	return &testNode{sock: sock, re: re, network: network, engine: engine}
}

func (n *testNode) addr() netip.AddrPort {
	return n.sock.local
}

// knows asks the engine, on its own reactor, whether id is in the routing
// table.
func (n *testNode) knows(t *testing.T, id types.NodeID) bool {
	t.Helper()
	res := make(chan bool, 1)
	n.re.Post(func() {
		_, ok := n.engine.routingTable.GetEndpoint(id)
		res <- ok
	})
	select {
	case ok := <-res:
		return ok
	case <-time.After(2 * time.Second):
		t.Fatal("routing table probe timed out")
		return false
	}
}

// rawPeer is a scripted protocol speaker: a bare hub socket plus helpers to
// read decoded frames and send hand-built ones.
type rawPeer struct {
	id     types.NodeID
	sock   *simSocket
	frames chan rawFrame
}

type rawFrame struct {
	from    netip.AddrPort
	header  wire.Header
	payload []byte
}

func newRawPeer(t *testing.T, hub *simHub) *rawPeer {
	t.Helper()
	p := &rawPeer{
		id:     types.NewRandomID(),
		sock:   hub.socket(),
		frames: make(chan rawFrame, 64),
	}
	go p.readLoop()
	t.Cleanup(func() { p.sock.Close() })
	return p
}

func (p *rawPeer) readLoop() {
	defer close(p.frames)
	buf := make([]byte, 64*1024)
	for {
		n, from, err := p.sock.ReadFrom(buf)
		if err != nil {
			return
		}
		h, payload, err := wire.DecodeHeader(buf[:n])
		if err != nil {
			continue
		}
		data := append([]byte(nil), payload...)
		select {
		case p.frames <- rawFrame{from: from, header: h, payload: data}:
		default:
		}
	}
}

func (p *rawPeer) send(to netip.AddrPort, token types.NodeID, body wire.Body) {
	h := wire.Header{
		Version:     wire.ProtocolVersion,
		Type:        body.MessageType(),
		SourceID:    p.id,
		RandomToken: token,
	}
	p.sock.WriteTo(wire.EncodeMessage(h, body), to)
}

// nextFrameOfType waits for the next inbound frame of the wanted type,
// discarding others.
func (p *rawPeer) nextFrameOfType(t *testing.T, want wire.MessageType) rawFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case fr := <-p.frames:
			if fr.header.Type == want {
				return fr
			}
		case <-deadline:
			t.Fatalf("no %v frame arrived in time", want)
		}
	}
}

// serveEmptyFindPeer answers every FIND_PEER and FIND_VALUE request with an
// empty FIND_PEER_RESPONSE until the peer's socket closes. Run it on its
// own goroutine.
func (p *rawPeer) serveEmptyFindPeer() {
	for fr := range p.frames {
		switch fr.header.Type {
		case wire.FindPeerRequest, wire.FindValueRequest:
			p.send(fr.from, fr.header.RandomToken, wire.FindPeerResponseBody{})
		}
	}
}
