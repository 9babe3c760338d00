package dht

import (
	"net/netip"
	"sort"

	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/routing"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

// SaveHandler receives the outcome of an asynchronous save. A save reports
// nil as soon as the STORE requests have been dispatched; the protocol
// carries no store acknowledgement.
type SaveHandler func(err error)

// storeValueContext - Lookup state for one FIND_PEER-to-store search.
type storeValueContext struct {
	*lookupContext
	data    []byte
	handler SaveHandler
}

func newStoreValueContext(key types.NodeID, data []byte, seeds []routing.Peer, handler SaveHandler) *storeValueContext {
	return &storeValueContext{
		lookupContext: newLookupContext(key, seeds),
		data:          data,
		handler:       handler,
	}
}

func (ctx *storeValueContext) notifyCaller(err error) {
	if !ctx.markNotified() {
		return
	}
	ctx.handler(err)
}

// selectClosestValidCandidates - Returns the n valid candidates nearest to
// the key, the peers that will receive the STORE requests.
func (ctx *storeValueContext) selectClosestValidCandidates(n int) []routing.Peer {
	valid := make([]routing.Peer, 0, len(ctx.candidates))
	for _, c := range ctx.candidates {
		if c.status == candidateValid {
			valid = append(valid, c.peer)
		}
	}
	sort.Slice(valid, func(i, j int) bool {
		return types.CompareDistance(valid[i].ID, valid[j].ID, ctx.key) < 0
	})

	if n > len(valid) {
		n = len(valid)
	}
	return valid[:n]
}

// storeValue drives one round of the FIND_PEER search that precedes the
// store phase. A drive that leaves nothing in flight proceeds straight to
// the store phase.
func (e *Engine) storeValue(ctx *storeValueContext) {
	e.log.Debug("sending find peer to store value", zap.String("key", ctx.key.String()))

	request := wire.FindPeerRequestBody{Target: ctx.key}

	for _, c := range ctx.selectNewClosestCandidates(e.cfg.Alpha) {
		e.sendFindPeerToStoreRequest(request, c, ctx)
	}

	if ctx.haveAllRequestsCompleted() && !ctx.isCallerNotified() {
		e.sendStoreRequests(ctx)
	}
}

func (e *Engine) sendFindPeerToStoreRequest(request wire.FindPeerRequestBody, currentCandidate routing.Peer, ctx *storeValueContext) {
	onMessage := func(sender netip.AddrPort, h wire.Header, payload []byte) {
		ctx.flagCandidateAsValid(currentCandidate.ID)
		e.handleFindPeerToStoreResponse(sender, h, payload, ctx)
	}

	onError := func(err error) {
		ctx.flagCandidateAsInvalid(currentCandidate.ID)

		// once nothing is in flight the closest peers are known,
		// so ask them to store the value
		if ctx.haveAllRequestsCompleted() {
			e.sendStoreRequests(ctx)
		}
	}

	e.core.SendRequest(request, currentCandidate.Endpoint, e.cfg.PeerLookupTimeout, onMessage, onError)
}

func (e *Engine) handleFindPeerToStoreResponse(sender netip.AddrPort, h wire.Header, payload []byte, ctx *storeValueContext) {
	if h.Type != wire.FindPeerResponse {
		e.log.Debug("ignoring unexpected response type during store lookup",
			zap.Stringer("type", h.Type),
			zap.String("from", sender.String()))
		return
	}

	response, err := wire.DecodeFindPeerResponse(payload)
	if err != nil {
		e.log.Debug("failed to decode find peer response",
			zap.String("key", ctx.key.String()),
			zap.Error(err))
		return
	}

	// if new closer candidates have been discovered, ask them too
	if ctx.areTheseCandidatesClosest(response.Peers) {
		e.storeValue(ctx)
		return
	}

	if ctx.haveAllRequestsCompleted() {
		e.sendStoreRequests(ctx)
	}
}

// sendStoreRequests is the store phase: fire one unacknowledged STORE at
// each of the closest valid candidates, then report success to the caller
// regardless of how many peers were reachable.
func (e *Engine) sendStoreRequests(ctx *storeValueContext) {
	candidates := ctx.selectClosestValidCandidates(e.cfg.ReplicationFactor)

	request := wire.StoreRequestBody{Key: ctx.key, Value: ctx.data}
	for _, c := range candidates {
		e.log.Debug("sending store request",
			zap.String("key", ctx.key.String()),
			zap.String("to", c.Endpoint.String()))
		e.core.SendFireAndForget(request, c.Endpoint)
	}

	ctx.notifyCaller(nil)
}
