package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hashbeam/hashbeam-dht/config"
	"github.com/hashbeam/hashbeam-dht/dht"
	"github.com/hashbeam/hashbeam-dht/events"
)

// logListener prints node events as they happen.
type logListener struct {
	name string
	log  *zap.Logger
}

func (l *logListener) OnPeerAdded(ev events.PeerEvent) {
	l.log.Info("peer added",
		zap.String("node", l.name),
		zap.String("id", ev.ID.String()),
		zap.String("endpoint", ev.Endpoint.String()))
}

func (l *logListener) OnValueStored(ev events.ValueEvent) {
	l.log.Info("value stored",
		zap.String("node", l.name),
		zap.String("key", ev.Key.String()),
		zap.Int("size", ev.Size))
}

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logCfg := zap.NewDevelopmentConfig()
	if !*verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	//setup config.
	cfg := config.Default()
	cfg.IPv4Listen = "127.0.0.1:0"

	//create two nodes: a seed starting a fresh overlay, and a joiner that
	//bootstraps against it
	seed, err := dht.NewNode(cfg, logger, &logListener{name: "seed", log: logger})
	if err != nil {
		logger.Fatal("failed to start seed node", zap.Error(err))
	}
	defer seed.Close()

	joinCfg := cfg
	joinCfg.InitialPeer = seed.LocalEndpoints()[0]

	//in a real deployment the seed may still be starting up, so the join
	//keeps knocking for a while
	var joiner *dht.Node
	join := backoff.NewExponentialBackOff()
	join.InitialInterval = 200 * time.Millisecond
	join.MaxElapsedTime = 15 * time.Second
	err = backoff.Retry(func() error {
		var nodeErr error
		joiner, nodeErr = dht.NewNode(joinCfg, logger, &logListener{name: "joiner", log: logger})
		return nodeErr
	}, join)
	if err != nil {
		logger.Fatal("failed to join", zap.Error(err))
	}
	defer joiner.Close()

	logger.Info("overlay formed",
		zap.String("seed", seed.ID().String()),
		zap.String("joiner", joiner.ID().String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	//each node stores a unique key which is subsequently retrieved by the
	//node that does not hold the replica, confirming both directions of
	//the overlay work
	if err := joiner.Save(ctx, "alpha", []byte("A")); err != nil {
		logger.Fatal("joiner save failed", zap.Error(err))
	}
	if err := seed.Save(ctx, "beta", []byte("B")); err != nil {
		logger.Fatal("seed save failed", zap.Error(err))
	}

	if v, err := joiner.Load(ctx, "alpha"); err != nil {
		logger.Fatal("joiner load failed", zap.Error(err))
	} else {
		logger.Info("joiner read back alpha", zap.ByteString("value", v))
	}
	if v, err := seed.Load(ctx, "beta"); err != nil {
		logger.Fatal("seed load failed", zap.Error(err))
	} else {
		logger.Info("seed read back beta", zap.ByteString("value", v))
	}

	logger.Info("round trips complete")
}
