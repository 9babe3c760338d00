package dht

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/routing"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

// LoadHandler receives the outcome of an asynchronous load: the value, or
// ErrValueNotFound once the lookup exhausted its candidates.
type LoadHandler func(value []byte, err error)

// findValueContext - Lookup state for one FIND_VALUE search.
type findValueContext struct {
	*lookupContext
	handler LoadHandler
}

func newFindValueContext(key types.NodeID, seeds []routing.Peer, handler LoadHandler) *findValueContext {
	return &findValueContext{
		lookupContext: newLookupContext(key, seeds),
		handler:       handler,
	}
}

func (ctx *findValueContext) notifyCaller(value []byte, err error) {
	if !ctx.markNotified() {
		return
	}
	ctx.handler(value, err)
}

// findValue drives one round of the FIND_VALUE lookup: it sends requests to
// the alpha closest unqueried candidates. A drive that leaves nothing in
// flight has exhausted the search and reports ErrValueNotFound.
func (e *Engine) findValue(ctx *findValueContext) {
	request := wire.FindValueRequestBody{Key: ctx.key}

	for _, c := range ctx.selectNewClosestCandidates(e.cfg.Alpha) {
		e.sendFindValueRequest(request, c, ctx)
	}

	if ctx.haveAllRequestsCompleted() && !ctx.isCallerNotified() {
		ctx.notifyCaller(nil, ErrValueNotFound)
	}
}

func (e *Engine) sendFindValueRequest(request wire.FindValueRequestBody, currentCandidate routing.Peer, ctx *findValueContext) {
	e.log.Debug("sending find value request",
		zap.String("key", ctx.key.String()),
		zap.String("to", currentCandidate.Endpoint.String()))

	onMessage := func(sender netip.AddrPort, h wire.Header, payload []byte) {
		if ctx.isCallerNotified() {
			return
		}
		ctx.flagCandidateAsValid(currentCandidate.ID)
		e.handleFindValueResponse(sender, h, payload, ctx)
	}

	onError := func(err error) {
		if ctx.isCallerNotified() {
			return
		}
		ctx.flagCandidateAsInvalid(currentCandidate.ID)
		e.findValue(ctx)
	}

	e.core.SendRequest(request, currentCandidate.Endpoint, e.cfg.PeerLookupTimeout, onMessage, onError)
}

// handleFindValueResponse is called while searching for the peer owning the
// value. A FIND_VALUE_RESPONSE ends the search; a FIND_PEER_RESPONSE feeds
// closer peers back into the iteration.
func (e *Engine) handleFindValueResponse(sender netip.AddrPort, h wire.Header, payload []byte, ctx *findValueContext) {
	switch h.Type {
	case wire.FindPeerResponse:
		// the peer didn't know the value but provided closest peers
		e.sendFindValueRequestsOnCloserPeers(payload, ctx)
	case wire.FindValueResponse:
		e.processFoundValue(payload, ctx)
	default:
		e.log.Debug("ignoring unexpected response type during find value",
			zap.Stringer("type", h.Type),
			zap.String("from", sender.String()))
	}
}

func (e *Engine) sendFindValueRequestsOnCloserPeers(payload []byte, ctx *findValueContext) {
	response, err := wire.DecodeFindPeerResponse(payload)
	if err != nil {
		e.log.Debug("failed to decode find peer response",
			zap.String("key", ctx.key.String()),
			zap.Error(err))
		return
	}

	if ctx.areTheseCandidatesClosest(response.Peers) {
		e.findValue(ctx)
	}

	if ctx.haveAllRequestsCompleted() {
		ctx.notifyCaller(nil, ErrValueNotFound)
	}
}

func (e *Engine) processFoundValue(payload []byte, ctx *findValueContext) {
	response, err := wire.DecodeFindValueResponse(payload)
	if err != nil {
		e.log.Debug("failed to decode find value response",
			zap.String("key", ctx.key.String()),
			zap.Error(err))
		return
	}

	e.log.Debug("found value", zap.String("key", ctx.key.String()))
	ctx.notifyCaller(response.Value, nil)
}
