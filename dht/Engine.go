package dht

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/config"
	"github.com/hashbeam/hashbeam-dht/events"
	"github.com/hashbeam/hashbeam-dht/netx"
	"github.com/hashbeam/hashbeam-dht/reactor"
	"github.com/hashbeam/hashbeam-dht/routing"
	"github.com/hashbeam/hashbeam-dht/store"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

// Engine - The long-lived state machine at the heart of a node. It owns the
// routing table, the value store and the pending-task queue, dispatches
// every inbound datagram, and drives the iterative lookups behind
// AsyncSave and AsyncLoad.
//
// An engine is bound to a single reactor for its whole life and every piece
// of state it owns is only ever touched on that reactor's goroutine. It is
// neither copyable nor restartable.
type Engine struct {
	cfg          config.Config
	myID         types.NodeID
	reactor      *reactor.Reactor
	network      *netx.Network
	router       *ResponseRouter
	core         *Core
	routingTable *routing.RoutingTable
	valueStore   *store.ValueStore
	isConnected  bool
	pendingTasks []func()
	listener     events.NodeEventListener
	log          *zap.Logger
}

// NewEngine wires an engine onto the given reactor and network and starts
// receiving. The node is not joined to any overlay yet; use Bootstrap, or
// wait for strangers to find us.
func NewEngine(re *reactor.Reactor, network *netx.Network, cfg config.Config, log *zap.Logger, listener events.NodeEventListener) *Engine {
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		cfg:      cfg,
		myID:     types.NewRandomID(),
		reactor:  re,
		network:  network,
		listener: listener,
		log:      log,
	}
	e.router = NewResponseRouter(re.Timeouts(), log)
	e.core = NewCore(e.myID, network, e.router, log)
	e.routingTable = routing.NewRoutingTable(e.myID, cfg.K)
	e.valueStore = store.NewValueStore()

	network.Listen(func(task func()) { re.Post(task) }, e.handleNewMessage)

	log.Info("engine started", zap.String("id", e.myID.String()))
	return e
}

// ID - The local node id.
func (e *Engine) ID() types.NodeID {
	return e.myID
}

// IsConnected reports whether at least one message has ever been received,
// i.e whether queued operations have started draining. Posted to the
// reactor, hence safe from any goroutine; false after shutdown.
func (e *Engine) IsConnected() bool {
	done := make(chan bool, 1)
	if !e.reactor.Post(func() { done <- e.isConnected }) {
		return false
	}
	return <-done
}

// Bootstrap - Joins the overlay through the given initial peer. The call
// blocks until the first FIND_PEER response has been processed or every
// resolved endpoint has been tried in vain, in which case
// ErrInitialPeerFailedToRespond is returned.
func (e *Engine) Bootstrap(initialPeer string) error {
	endpoints, err := netx.ResolveEndpoint(initialPeer)
	if err != nil || len(endpoints) == 0 {
		e.log.Debug("initial peer did not resolve", zap.String("peer", initialPeer), zap.Error(err))
		return ErrInitialPeerFailedToRespond
	}

	e.log.Debug("bootstrapping", zap.String("peer", initialPeer), zap.Int("endpoints", len(endpoints)))

	result := make(chan error, 1)
	if !e.reactor.Post(func() { e.searchOurselves(endpoints, result) }) {
		return ErrInitialPeerFailedToRespond
	}
	return <-result
}

// searchOurselves asks the next untried endpoint of the initial peer which
// peers are close to our own id. Failures walk down the endpoint list;
// exhaustion fails the bootstrap.
func (e *Engine) searchOurselves(endpointsToQuery []netip.AddrPort, result chan<- error) {
	if len(endpointsToQuery) == 0 {
		result <- ErrInitialPeerFailedToRespond
		return
	}

	endpointToQuery := endpointsToQuery[0]
	remaining := endpointsToQuery[1:]

	onMessage := func(sender netip.AddrPort, h wire.Header, payload []byte) {
		e.handleInitialContactResponse(sender, h, payload, remaining, result)
	}
	onError := func(err error) {
		e.searchOurselves(remaining, result)
	}

	e.core.SendRequest(wire.FindPeerRequestBody{Target: e.myID}, endpointToQuery,
		e.cfg.InitialContactReceiveTimeout, onMessage, onError)
}

func (e *Engine) handleInitialContactResponse(sender netip.AddrPort, h wire.Header, payload []byte, remaining []netip.AddrPort, result chan<- error) {
	if h.Type != wire.FindPeerResponse {
		e.log.Debug("unexpected initial contact response type, trying next endpoint",
			zap.Stringer("type", h.Type))
		e.searchOurselves(remaining, result)
		return
	}

	response, err := wire.DecodeFindPeerResponse(payload)
	if err != nil {
		e.log.Debug("failed to decode initial contact response, trying next endpoint", zap.Error(err))
		e.searchOurselves(remaining, result)
		return
	}

	for _, p := range response.Peers {
		e.pushPeer(p.ID, p.Endpoint)
	}
	e.log.Debug("added initial peers", zap.Int("count", len(response.Peers)))

	e.notifyNeighbors()

	result <- nil
}

// notifyNeighbors refreshes each bucket: for every bit position the local
// id is flipped at exactly that bit and a background FIND_PEER lookup is
// started toward the result, populating the corresponding bucket with live
// peers as responses flow through the normal dispatch path.
func (e *Engine) notifyNeighbors() {
	for j := types.IDBits - 1; j >= 0; j-- {
		e.startNotifyPeerLookup(e.myID.WithBitFlipped(j))
	}
}

// AsyncSave - Stores value under key somewhere on the overlay. The handler
// is invoked exactly once, on the reactor goroutine, as soon as the STORE
// requests have been dispatched. Callable from any goroutine.
func (e *Engine) AsyncSave(key types.NodeID, value []byte, handler SaveHandler) {
	v := make([]byte, len(value))
	copy(v, value)
	e.reactor.Post(func() { e.asyncSave(key, v, handler) })
}

// AsyncLoad - Retrieves the value stored under key. The handler is invoked
// exactly once, on the reactor goroutine, with the value or
// ErrValueNotFound. Callable from any goroutine.
func (e *Engine) AsyncLoad(key types.NodeID, handler LoadHandler) {
	e.reactor.Post(func() { e.asyncLoad(key, handler) })
}

func (e *Engine) asyncSave(key types.NodeID, value []byte, handler SaveHandler) {
	// until the first message proves the network exists, park the request
	if !e.isConnected {
		e.log.Debug("delaying async save", zap.String("key", key.String()))
		e.pendingTasks = append(e.pendingTasks, func() { e.asyncSave(key, value, handler) })
		return
	}

	e.log.Debug("executing async save", zap.String("key", key.String()))
	seeds := e.routingTable.Closest(key, e.cfg.K)
	ctx := newStoreValueContext(key, value, seeds, handler)
	e.storeValue(ctx)
}

func (e *Engine) asyncLoad(key types.NodeID, handler LoadHandler) {
	if !e.isConnected {
		e.log.Debug("delaying async load", zap.String("key", key.String()))
		e.pendingTasks = append(e.pendingTasks, func() { e.asyncLoad(key, handler) })
		return
	}

	e.log.Debug("executing async load", zap.String("key", key.String()))
	seeds := e.routingTable.Closest(key, e.cfg.K)
	ctx := newFindValueContext(key, seeds, handler)
	e.findValue(ctx)
}

// handleNewMessage is the entry point for every inbound datagram. Runs on
// the reactor goroutine.
func (e *Engine) handleNewMessage(sender netip.AddrPort, data []byte) {
	h, payload, err := wire.DecodeHeader(data)
	if err != nil {
		e.log.Debug("failed to decode message header",
			zap.String("from", sender.String()),
			zap.Error(err))
		return
	}

	// every touch refreshes the sender's routing table position
	e.pushPeer(h.SourceID, sender)

	// a message has been received, hence the connection is up;
	// check if it was down before
	if !e.isConnected {
		e.isConnected = true
		e.executePendingTasks()
	}

	e.processNewMessage(sender, h, payload)
}

func (e *Engine) processNewMessage(sender netip.AddrPort, h wire.Header, payload []byte) {
	switch h.Type {
	case wire.PingRequest:
		e.handlePingRequest(sender, h)
	case wire.StoreRequest:
		e.handleStoreRequest(sender, h, payload)
	case wire.FindPeerRequest:
		e.handleFindPeerRequest(sender, h, payload)
	case wire.FindValueRequest:
		e.handleFindValueRequest(sender, h, payload)
	default:
		e.core.HandleNewResponse(sender, h, payload)
	}
}

func (e *Engine) handlePingRequest(sender netip.AddrPort, h wire.Header) {
	e.log.Debug("handling ping request", zap.String("from", sender.String()))
	e.core.SendResponse(h.RandomToken, wire.PingResponseBody{}, sender)
}

func (e *Engine) handleStoreRequest(sender netip.AddrPort, h wire.Header, payload []byte) {
	request, err := wire.DecodeStoreRequest(payload)
	if err != nil {
		e.log.Debug("failed to decode store request", zap.Error(err))
		return
	}

	e.valueStore.Put(request.Key, request.Value)
	if e.listener != nil {
		e.listener.OnValueStored(events.ValueEvent{
			Key:      request.Key,
			Size:     len(request.Value),
			StoredAt: time.Now(),
		})
	}
}

func (e *Engine) handleFindPeerRequest(sender netip.AddrPort, h wire.Header, payload []byte) {
	request, err := wire.DecodeFindPeerRequest(payload)
	if err != nil {
		e.log.Debug("failed to decode find peer request", zap.Error(err))
		return
	}

	e.sendFindPeerResponse(sender, h.RandomToken, request.Target)
}

func (e *Engine) handleFindValueRequest(sender netip.AddrPort, h wire.Header, payload []byte) {
	request, err := wire.DecodeFindValueRequest(payload)
	if err != nil {
		e.log.Debug("failed to decode find value request", zap.Error(err))
		return
	}

	value, found := e.valueStore.Get(request.Key)
	if !found {
		e.sendFindPeerResponse(sender, h.RandomToken, request.Key)
		return
	}
	e.core.SendResponse(h.RandomToken, wire.FindValueResponseBody{Value: value}, sender)
}

// sendFindPeerResponse answers with up to K peers closest to the target.
func (e *Engine) sendFindPeerResponse(sender netip.AddrPort, token types.NodeID, target types.NodeID) {
	closest := e.routingTable.Closest(target, e.cfg.K)

	response := wire.FindPeerResponseBody{Peers: make([]wire.PeerEntry, 0, len(closest))}
	for _, p := range closest {
		response.Peers = append(response.Peers, wire.PeerEntry{ID: p.ID, Endpoint: p.Endpoint})
	}
	e.core.SendResponse(token, response, sender)
}

func (e *Engine) pushPeer(id types.NodeID, endpoint netip.AddrPort) {
	if e.routingTable.Push(id, endpoint) && e.listener != nil {
		e.listener.OnPeerAdded(events.PeerEvent{
			ID:         id,
			Endpoint:   endpoint,
			ObservedAt: time.Now(),
		})
	}
}

// executePendingTasks drains, in FIFO order, the save/load requests that
// arrived before the first inbound message.
func (e *Engine) executePendingTasks() {
	e.log.Debug("executing pending tasks", zap.Int("count", len(e.pendingTasks)))

	for len(e.pendingTasks) > 0 {
		task := e.pendingTasks[0]
		e.pendingTasks = e.pendingTasks[1:]
		task()
	}
}
