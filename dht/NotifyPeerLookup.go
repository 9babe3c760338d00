package dht

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/routing"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

// notifyPeerContext - Lookup state for one background bucket-refresh
// search. It has no caller to notify: the point of the exercise is the
// routing table updates performed by the normal inbound dispatch path as
// the contacted peers answer.
type notifyPeerContext struct {
	*lookupContext
}

// startNotifyPeerLookup kicks off a background FIND_PEER search toward the
// given refresh id.
func (e *Engine) startNotifyPeerLookup(target types.NodeID) {
	seeds := e.routingTable.Closest(target, e.cfg.K)
	if len(seeds) == 0 {
		return
	}
	ctx := &notifyPeerContext{lookupContext: newLookupContext(target, seeds)}
	e.notifyPeer(ctx)
}

func (e *Engine) notifyPeer(ctx *notifyPeerContext) {
	request := wire.FindPeerRequestBody{Target: ctx.key}

	for _, c := range ctx.selectNewClosestCandidates(e.cfg.Alpha) {
		e.sendNotifyPeerRequest(request, c, ctx)
	}
	// exhaustion simply ends the task; there is nobody to tell
}

func (e *Engine) sendNotifyPeerRequest(request wire.FindPeerRequestBody, currentCandidate routing.Peer, ctx *notifyPeerContext) {
	onMessage := func(sender netip.AddrPort, h wire.Header, payload []byte) {
		ctx.flagCandidateAsValid(currentCandidate.ID)

		if h.Type != wire.FindPeerResponse {
			return
		}
		response, err := wire.DecodeFindPeerResponse(payload)
		if err != nil {
			e.log.Debug("failed to decode find peer response during refresh",
				zap.String("target", ctx.key.String()),
				zap.Error(err))
			return
		}
		if ctx.areTheseCandidatesClosest(response.Peers) {
			e.notifyPeer(ctx)
		}
	}

	onError := func(err error) {
		ctx.flagCandidateAsInvalid(currentCandidate.ID)
		e.notifyPeer(ctx)
	}

	e.core.SendRequest(request, currentCandidate.Endpoint, e.cfg.PeerLookupTimeout, onMessage, onError)
}
