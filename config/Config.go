package config

import (
	"time"
)

type Config struct {
	K                            int           //the maximum number of peers held per routing table bucket, also the number of peers returned in a FIND_PEER response.
	Alpha                        int           //the number of concurrent requests driven by a single iterative lookup.
	ReplicationFactor            int           //the number of closest valid candidates that receive a STORE request at the end of a save operation.
	PeerLookupTimeout            time.Duration //the per-request timeout applied to FIND_PEER and FIND_VALUE requests issued by lookups.
	InitialContactReceiveTimeout time.Duration //the timeout applied to each endpoint tried while bootstrapping against the initial peer.
	IPv4Listen                   string        //the local IPv4 listen endpoint, e.g "127.0.0.1:0". Empty leaves the IPv4 socket unconfigured.
	IPv6Listen                   string        //the local IPv6 listen endpoint. Empty leaves the IPv6 socket unconfigured.
	InitialPeer                  string        //the textual endpoint of the peer used to join the network. Empty starts a standalone node.
}

// Default - Returns the stock configuration carrying the protocol constants.
func Default() Config {
	return Config{
		K:                            20,
		Alpha:                        3,
		ReplicationFactor:            3,
		PeerLookupTimeout:            5 * time.Second,
		InitialContactReceiveTimeout: 1 * time.Second,
	}
}
