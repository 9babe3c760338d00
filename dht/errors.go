package dht

import "errors"

var (
	// ErrInitialPeerFailedToRespond is returned by bootstrap when every
	// resolved endpoint of the initial peer was tried without an answer.
	ErrInitialPeerFailedToRespond = errors.New("dht: initial peer failed to respond")

	// ErrAssociationTimeout is delivered to a request's error callback when
	// no response arrived within the request timeout.
	ErrAssociationTimeout = errors.New("dht: association timed out")

	// ErrValueNotFound is delivered to a load handler once the lookup has
	// exhausted every candidate without finding the value.
	ErrValueNotFound = errors.New("dht: value not found")

	// ErrAlreadyPending reports a random token collision in the response
	// router. With 160-bit random tokens this indicates a broken caller.
	ErrAlreadyPending = errors.New("dht: response association already pending")
)
