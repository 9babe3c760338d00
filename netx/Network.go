package netx

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"go.uber.org/zap"
)

// ErrNoSocketForFamily is the transport error reported when a send targets
// an address family for which no socket was configured.
var ErrNoSocketForFamily = errors.New("netx: no socket configured for address family")

// MessageHandler is the type definition for the callback function that is
// invoked when a datagram is received via a Network instance.
type MessageHandler func(sender netip.AddrPort, data []byte)

// maxDatagramSize bounds a single inbound frame.
const maxDatagramSize = 64 * 1024

// Network - Owns up to two packet sockets, one per address family, and
// frames inbound datagrams towards the engine. Outbound sends pick the
// socket matching the destination family.
type Network struct {
	v4  PacketSocket
	v6  PacketSocket
	log *zap.Logger
}

// NewNetwork wraps the given sockets; either may be nil to leave that
// family unconfigured, but not both.
func NewNetwork(v4, v6 PacketSocket, log *zap.Logger) (*Network, error) {
	if v4 == nil && v6 == nil {
		return nil, errors.New("netx: at least one socket is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Network{v4: v4, v6: v6, log: log}, nil
}

// Listen - Starts one receive loop per configured socket. Every inbound
// datagram is posted through post so the handler runs on the reactor
// goroutine. Loops exit when their socket is closed.
func (n *Network) Listen(post func(func()), handler MessageHandler) {
	if n.v4 != nil {
		go n.receiveLoop(n.v4, post, handler)
	}
	if n.v6 != nil {
		go n.receiveLoop(n.v6, post, handler)
	}
}

func (n *Network) receiveLoop(s PacketSocket, post func(func()), handler MessageHandler) {
	buf := make([]byte, maxDatagramSize)
	for {
		size, sender, err := s.ReadFrom(buf)
		if err != nil {
			n.log.Debug("receive loop terminating", zap.Error(err))
			return
		}
		data := make([]byte, size)
		copy(data, buf[:size])
		post(func() { handler(sender, data) })
	}
}

// Send - Transmits one datagram to the endpoint over the socket matching
// its address family.
func (n *Network) Send(to netip.AddrPort, data []byte) error {
	s := n.socketFor(to)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSocketForFamily, to)
	}
	_, err := s.WriteTo(data, to)
	return err
}

// Close - Closes both sockets, which also terminates the receive loops.
func (n *Network) Close() error {
	var first error
	if n.v4 != nil {
		if err := n.v4.Close(); err != nil && first == nil {
			first = err
		}
	}
	if n.v6 != nil {
		if err := n.v6.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LocalEndpoints returns the bound endpoints of the configured sockets.
func (n *Network) LocalEndpoints() []netip.AddrPort {
	var eps []netip.AddrPort
	if n.v4 != nil {
		eps = append(eps, n.v4.LocalEndpoint())
	}
	if n.v6 != nil {
		eps = append(eps, n.v6.LocalEndpoint())
	}
	return eps
}

func (n *Network) socketFor(to netip.AddrPort) PacketSocket {
	if to.Addr().Unmap().Is4() {
		return n.v4
	}
	return n.v6
}

// ResolveEndpoint - Resolves a textual "host:port" endpoint to one or more
// concrete endpoints. An empty result is a hard failure.
func ResolveEndpoint(endpoint string) ([]netip.AddrPort, error) {
	// fast path for literal addresses
	if ep, err := netip.ParseAddrPort(endpoint); err == nil {
		return []netip.AddrPort{ep}, nil
	}

	host, portText, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("netx: invalid endpoint %q: %w", endpoint, err)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("netx: invalid port in %q: %w", endpoint, err)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("netx: resolving %q: %w", host, err)
	}

	eps := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		if addr, ok := netip.AddrFromSlice(ip); ok {
			eps = append(eps, netip.AddrPortFrom(addr.Unmap(), uint16(port)))
		}
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("netx: %q resolved to no usable endpoints", endpoint)
	}
	return eps, nil
}
