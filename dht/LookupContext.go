package dht

import (
	"sort"

	"github.com/hashbeam/hashbeam-dht/routing"
	"github.com/hashbeam/hashbeam-dht/types"
	"github.com/hashbeam/hashbeam-dht/wire"
)

type candidateStatus uint8

const (
	candidateUnqueried candidateStatus = iota
	candidateInFlight
	candidateValid
	candidateInvalid
)

type candidate struct {
	peer   routing.Peer
	status candidateStatus
}

// lookupContext - The state shared by one iterative lookup: the key being
// chased, every peer considered so far tagged with its query status, the
// number of requests in flight, and a latch guaranteeing the caller hears
// back at most once.
//
// A context is shared between the driver and each outstanding request
// callback; all of them run on the reactor goroutine.
type lookupContext struct {
	key        types.NodeID
	candidates map[types.NodeID]*candidate
	inFlight   int
	notified   bool
}

func newLookupContext(key types.NodeID, seeds []routing.Peer) *lookupContext {
	ctx := &lookupContext{
		key:        key,
		candidates: make(map[types.NodeID]*candidate, len(seeds)),
	}
	for _, p := range seeds {
		ctx.candidates[p.ID] = &candidate{peer: p}
	}
	return ctx
}

// selectNewClosestCandidates - Picks up to n unqueried candidates nearest
// to the key, marks them in flight and returns them. An empty result means
// the candidate set is exhausted.
func (ctx *lookupContext) selectNewClosestCandidates(n int) []routing.Peer {
	unqueried := make([]*candidate, 0, len(ctx.candidates))
	for _, c := range ctx.candidates {
		if c.status == candidateUnqueried {
			unqueried = append(unqueried, c)
		}
	}
	sort.Slice(unqueried, func(i, j int) bool {
		return types.CompareDistance(unqueried[i].peer.ID, unqueried[j].peer.ID, ctx.key) < 0
	})

	if n > len(unqueried) {
		n = len(unqueried)
	}
	selected := make([]routing.Peer, 0, n)
	for _, c := range unqueried[:n] {
		c.status = candidateInFlight
		ctx.inFlight++
		selected = append(selected, c.peer)
	}
	return selected
}

// flagCandidateAsValid - Marks an in-flight candidate as having responded.
func (ctx *lookupContext) flagCandidateAsValid(id types.NodeID) {
	if c, ok := ctx.candidates[id]; ok && c.status == candidateInFlight {
		c.status = candidateValid
		ctx.inFlight--
	}
}

// flagCandidateAsInvalid - Marks an in-flight candidate as failed.
func (ctx *lookupContext) flagCandidateAsInvalid(id types.NodeID) {
	if c, ok := ctx.candidates[id]; ok && c.status == candidateInFlight {
		c.status = candidateInvalid
		ctx.inFlight--
	}
}

// areTheseCandidatesClosest - Merges freshly discovered peers into the
// candidate set, deduplicating by id. Returns true iff at least one newly
// added peer sits strictly closer to the key than every candidate currently
// in flight or valid, the signal that another round of requests is
// worthwhile.
func (ctx *lookupContext) areTheseCandidatesClosest(peers []wire.PeerEntry) bool {
	best, haveBest := ctx.closestActiveDistance()

	foundCloser := false
	for _, p := range peers {
		if _, known := ctx.candidates[p.ID]; known {
			continue
		}
		ctx.candidates[p.ID] = &candidate{peer: routing.Peer{ID: p.ID, Endpoint: p.Endpoint}}

		if !haveBest {
			foundCloser = true
			continue
		}
		d := p.ID.XOR(ctx.key)
		if compareIDs(d, best) < 0 {
			foundCloser = true
		}
	}
	return foundCloser
}

// closestActiveDistance returns the smallest XOR distance to the key among
// candidates that are in flight or already valid.
func (ctx *lookupContext) closestActiveDistance() (types.NodeID, bool) {
	var best types.NodeID
	have := false
	for _, c := range ctx.candidates {
		if c.status != candidateInFlight && c.status != candidateValid {
			continue
		}
		d := c.peer.ID.XOR(ctx.key)
		if !have || compareIDs(d, best) < 0 {
			best = d
			have = true
		}
	}
	return best, have
}

func (ctx *lookupContext) haveAllRequestsCompleted() bool {
	return ctx.inFlight == 0
}

func (ctx *lookupContext) isCallerNotified() bool {
	return ctx.notified
}

// markNotified flips the notify latch; returns false when it was already
// set, in which case the caller must not be invoked again.
func (ctx *lookupContext) markNotified() bool {
	if ctx.notified {
		return false
	}
	ctx.notified = true
	return true
}

func compareIDs(a, b types.NodeID) int {
	for i := 0; i < types.IDBytes; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}
