package dht

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/netx"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

// Core - The thin composition layer between the engine's handlers, the
// response router and the network: it serializes messages, stamps them with
// the local id and a fresh random token, and keeps the token association
// alive until the response or timeout arrives.
type Core struct {
	myID    types.NodeID
	network *netx.Network
	router  *ResponseRouter
	log     *zap.Logger
}

func NewCore(myID types.NodeID, network *netx.Network, router *ResponseRouter, log *zap.Logger) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	return &Core{myID: myID, network: network, router: router, log: log}
}

// SendRequest - Serializes and transmits a request, registering its token
// so exactly one of onMessage or onError fires later. A synchronous
// transport failure tears the registration down and reports through
// onError.
func (c *Core) SendRequest(body wire.Body, to netip.AddrPort, timeout time.Duration, onMessage ResponseCallback, onError ErrorCallback) {
	token := types.NewRandomID()
	h := wire.Header{
		Version:     wire.ProtocolVersion,
		Type:        body.MessageType(),
		SourceID:    c.myID,
		RandomToken: token,
	}

	if err := c.router.Register(token, timeout, onMessage, onError); err != nil {
		onError(err)
		return
	}

	if err := c.network.Send(to, wire.EncodeMessage(h, body)); err != nil {
		c.log.Debug("request send failed",
			zap.Stringer("type", body.MessageType()),
			zap.String("to", to.String()),
			zap.Error(err))
		c.router.Abort(token)
		onError(err)
	}
}

// SendFireAndForget - Transmits a request that expects no response, e.g a
// STORE. No token association is created and transport failures are only
// logged.
func (c *Core) SendFireAndForget(body wire.Body, to netip.AddrPort) {
	h := wire.Header{
		Version:     wire.ProtocolVersion,
		Type:        body.MessageType(),
		SourceID:    c.myID,
		RandomToken: types.NewRandomID(),
	}
	if err := c.network.Send(to, wire.EncodeMessage(h, body)); err != nil {
		c.log.Debug("fire-and-forget send failed",
			zap.Stringer("type", body.MessageType()),
			zap.String("to", to.String()),
			zap.Error(err))
	}
}

// SendResponse - Serializes and transmits a response carrying the token of
// the request it answers.
func (c *Core) SendResponse(token types.NodeID, body wire.Body, to netip.AddrPort) {
	h := wire.Header{
		Version:     wire.ProtocolVersion,
		Type:        body.MessageType(),
		SourceID:    c.myID,
		RandomToken: token,
	}
	if err := c.network.Send(to, wire.EncodeMessage(h, body)); err != nil {
		c.log.Debug("response send failed",
			zap.Stringer("type", body.MessageType()),
			zap.String("to", to.String()),
			zap.Error(err))
	}
}

// HandleNewResponse - Forwards an inbound response to the router.
func (c *Core) HandleNewResponse(sender netip.AddrPort, h wire.Header, payload []byte) {
	c.router.HandleInbound(sender, h, payload)
}
