package dht

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/reactor"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

// ResponseCallback receives the response that completed an association.
type ResponseCallback func(sender netip.AddrPort, h wire.Header, payload []byte)

// ErrorCallback receives the failure that completed an association.
type ErrorCallback func(err error)

type pendingResponse struct {
	onMessage   ResponseCallback
	onError     ErrorCallback
	timeoutTask reactor.TaskID
}

// ResponseRouter - Associates outbound request tokens with the callbacks
// waiting on them. Every registered token gets exactly one delivery: either
// the matching response or an ErrAssociationTimeout. Once delivered the
// association is gone and late datagrams carrying the token are dropped.
//
// Reactor-confined, like everything the engine owns.
type ResponseRouter struct {
	timeouts *reactor.TimeoutManager
	pending  map[types.NodeID]*pendingResponse
	log      *zap.Logger
}

func NewResponseRouter(timeouts *reactor.TimeoutManager, log *zap.Logger) *ResponseRouter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResponseRouter{
		timeouts: timeouts,
		pending:  make(map[types.NodeID]*pendingResponse),
		log:      log,
	}
}

// Register - Creates the association for a freshly generated token.
func (r *ResponseRouter) Register(token types.NodeID, timeout time.Duration, onMessage ResponseCallback, onError ErrorCallback) error {
	if _, exists := r.pending[token]; exists {
		return ErrAlreadyPending
	}

	p := &pendingResponse{onMessage: onMessage, onError: onError}
	p.timeoutTask = r.timeouts.ExpiresFromNow(timeout, func() { r.expire(token) })
	r.pending[token] = p
	return nil
}

// HandleInbound - Routes a response message to the association matching its
// token. Unknown tokens are dropped.
func (r *ResponseRouter) HandleInbound(sender netip.AddrPort, h wire.Header, payload []byte) {
	p, ok := r.pending[h.RandomToken]
	if !ok {
		r.log.Debug("dropping response with unknown token",
			zap.Stringer("type", h.Type),
			zap.String("token", h.RandomToken.String()))
		return
	}

	r.timeouts.Cancel(p.timeoutTask)
	delete(r.pending, h.RandomToken)
	p.onMessage(sender, h, payload)
}

// Abort - Silently discards an association, e.g when the send it belonged
// to already failed. Neither callback fires.
func (r *ResponseRouter) Abort(token types.NodeID) {
	p, ok := r.pending[token]
	if !ok {
		return
	}
	r.timeouts.Cancel(p.timeoutTask)
	delete(r.pending, token)
}

// PendingCount - Returns the number of live associations.
func (r *ResponseRouter) PendingCount() int {
	return len(r.pending)
}

func (r *ResponseRouter) expire(token types.NodeID) {
	p, ok := r.pending[token]
	if !ok {
		return
	}
	delete(r.pending, token)
	p.onError(ErrAssociationTimeout)
}
