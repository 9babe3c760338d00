package dht

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/commons"
	"github.com/hashbeam/hashbeam-dht/config"
	"github.com/hashbeam/hashbeam-dht/events"
	"github.com/hashbeam/hashbeam-dht/netx"
	"github.com/hashbeam/hashbeam-dht/reactor"
	"github.com/hashbeam/hashbeam-dht/types"
)

// Node - The public client façade over an Engine. It owns the reactor and
// the sockets, hashes string keys onto the id space and offers blocking
// wrappers over the asynchronous engine API.
type Node struct {
	cfg     config.Config
	reactor *reactor.Reactor
	network *netx.Network
	engine  *Engine
	codec   commons.ValueCodec
	log     *zap.Logger
}

// NewNode - Builds and starts a node according to cfg. When cfg.InitialPeer
// is set the call blocks on the join and fails with
// ErrInitialPeerFailedToRespond if the peer never answers. logger and
// listener may be nil.
func NewNode(cfg config.Config, logger *zap.Logger, listener events.NodeEventListener) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var v4, v6 netx.PacketSocket
	if cfg.IPv4Listen != "" {
		s, err := netx.ListenUDP(cfg.IPv4Listen)
		if err != nil {
			return nil, fmt.Errorf("dht: binding ipv4 socket: %w", err)
		}
		v4 = s
	}
	if cfg.IPv6Listen != "" {
		s, err := netx.ListenUDP(cfg.IPv6Listen)
		if err != nil {
			if v4 != nil {
				v4.Close()
			}
			return nil, fmt.Errorf("dht: binding ipv6 socket: %w", err)
		}
		v6 = s
	}

	network, err := netx.NewNetwork(v4, v6, logger)
	if err != nil {
		return nil, err
	}

	re := reactor.New(logger)
	re.Start()

	engine := NewEngine(re, network, cfg, logger, listener)

	n := &Node{
		cfg:     cfg,
		reactor: re,
		network: network,
		engine:  engine,
		codec:   commons.CBORValueCodec{},
		log:     logger,
	}

	if cfg.InitialPeer != "" {
		if err := engine.Bootstrap(cfg.InitialPeer); err != nil {
			n.Close()
			return nil, err
		}
	}
	return n, nil
}

// Close - Tears the node down: sockets first, then the reactor.
func (n *Node) Close() {
	n.network.Close()
	n.reactor.Stop()
}

// ID - The node's id on the overlay.
func (n *Node) ID() types.NodeID {
	return n.engine.ID()
}

// Engine exposes the underlying engine for callers that want the raw
// asynchronous API.
func (n *Node) Engine() *Engine {
	return n.engine
}

// LocalEndpoints - The bound socket endpoints, mostly useful with port 0.
func (n *Node) LocalEndpoints() []string {
	var out []string
	for _, ep := range n.network.LocalEndpoints() {
		out = append(out, ep.String())
	}
	return out
}

// Save - Stores value under key and blocks until the save has been
// dispatched or ctx expires.
func (n *Node) Save(ctx context.Context, key string, value []byte) error {
	done := make(chan error, 1)
	n.engine.AsyncSave(types.HashKey(key), value, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load - Retrieves the value stored under key, blocking until it is found,
// the lookup exhausts (ErrValueNotFound) or ctx expires.
func (n *Node) Load(ctx context.Context, key string) ([]byte, error) {
	type outcome struct {
		value []byte
		err   error
	}
	done := make(chan outcome, 1)
	n.engine.AsyncLoad(types.HashKey(key), func(value []byte, err error) {
		done <- outcome{value: value, err: err}
	})

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SaveValue - Encodes v with the node's value codec, wraps it in a Record
// envelope and saves it under key.
func (n *Node) SaveValue(ctx context.Context, key string, v any) error {
	body, err := n.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("dht: encoding value: %w", err)
	}
	id := n.engine.ID()
	rec := Record{
		Value:       body,
		CreatedUnix: time.Now().Unix(),
		Publisher:   id[:],
	}
	buf, err := n.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dht: encoding record: %w", err)
	}
	return n.Save(ctx, key, buf)
}

// LoadValue - Loads the record stored under key and decodes its payload
// into out.
func (n *Node) LoadValue(ctx context.Context, key string, out any) error {
	raw, err := n.Load(ctx, key)
	if err != nil {
		return err
	}
	var rec Record
	if err := n.codec.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("dht: decoding record: %w", err)
	}
	if err := n.codec.Unmarshal(rec.Value, out); err != nil {
		return fmt.Errorf("dht: decoding value: %w", err)
	}
	return nil
}

// IsNotFound - Convenience predicate for load outcomes.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrValueNotFound)
}
