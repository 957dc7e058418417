// Copyright 2024 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// worker is the sequencer/dispatcher/height-tracker daemon: it ingests
// signed messages grouped by sender, submits them in sequence order to
// the chain's transaction pool, and retries on timeout or failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/Lubov66/phala-blockchain/internal/chainclient"
	"github.com/Lubov66/phala-blockchain/internal/dispatcher"
	"github.com/Lubov66/phala-blockchain/internal/flags"
	"github.com/Lubov66/phala-blockchain/internal/height"
	"github.com/Lubov66/phala-blockchain/internal/localcache"
	"github.com/Lubov66/phala-blockchain/internal/registry"
	"github.com/Lubov66/phala-blockchain/internal/sequencer"
	"github.com/Lubov66/phala-blockchain/internal/txsubmitter"
	"github.com/Lubov66/phala-blockchain/internal/workerconfig"
)

var (
	app = flags.NewApp("Phala worker sequencer daemon")

	chainRPCEndpointFlag = &cli.StringFlag{
		Name:  "chain-rpc-endpoint",
		Usage: "Chain RPC endpoint for message ingest, next-sequence refresh and submission",
		Value: "ws://localhost:9944",
	}
	eventsDataDirFlag = &cli.StringFlag{
		Name:  "events-datadir",
		Usage: "Data directory reserved for an event-record store (validated and logged; the worker writes nothing to it)",
		Value: "./worker-data",
	}
	eventsRetentionFlag = &cli.Uint64Flag{
		Name:  "events-retention",
		Usage: "Number of events to retain (0 = unlimited); reserved, the worker keeps no event store",
		Value: 0,
	}
	eventChannelSizeFlag = &cli.IntFlag{
		Name:  "event-channel-size",
		Usage: "Dispatcher event queue capacity",
		Value: 4096,
	}
	submitTimeoutFlag = &cli.DurationFlag{
		Name:  "submit-timeout",
		Usage: "Per-submission RPC timeout (must be > 0; submissions are not bounded by it)",
		Value: 10 * time.Second,
	}
	localCacheAddrFlag = &cli.StringFlag{
		Name:  "local-cache-addr",
		Usage: "Address of an external sidevm local cache; ignored, quotas always go to the in-memory stand-in",
		Value: "",
	}
)

func init() {
	app.Action = runWorker
	app.Flags = []cli.Flag{
		chainRPCEndpointFlag,
		eventsDataDirFlag,
		eventsRetentionFlag,
		eventChannelSizeFlag,
		submitTimeoutFlag,
		localCacheAddrFlag,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfigFromCLI(ctx *cli.Context) *workerconfig.WorkerConfig {
	return &workerconfig.WorkerConfig{
		ChainRPCEndpoint: ctx.String(chainRPCEndpointFlag.Name),
		EventsDataDir:    ctx.String(eventsDataDirFlag.Name),
		EventsRetention:  ctx.Uint64(eventsRetentionFlag.Name),
		EventChannelSize: ctx.Int(eventChannelSizeFlag.Name),
		SubmitTimeout:    ctx.Duration(submitTimeoutFlag.Name),
		LocalCacheAddr:   ctx.String(localCacheAddrFlag.Name),
	}
}

func runWorker(cliCtx *cli.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	cfg := buildConfigFromCLI(cliCtx)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chain := chainclient.New(cfg.ChainRPCEndpoint)
	defer chain.Close()

	submitClient, err := rpc.DialContext(ctx, cfg.ChainRPCEndpoint)
	if err != nil {
		return fmt.Errorf("dial submission endpoint: %w", err)
	}
	defer submitClient.Close()

	core := sequencer.New()
	submitter := txsubmitter.NewRPCSubmitter(submitClient)
	refresher := &chainRefresher{client: chain}
	dsp := dispatcher.New(core, refresher, submitter, cfg.EventChannelSize)

	reg := registry.New()
	cache := localcache.NewMemCache()
	sweep := &sidevmSweep{registry: reg, cache: cache, spawner: noopSpawner{}}
	tracker := height.New(&heightSubscriber{client: chain}, multiSink{dsp, sweep})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); dsp.Run(ctx) }()
	go func() { defer wg.Done(); tracker.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("worker daemon started", "endpoint", cfg.ChainRPCEndpoint, "datadir", cfg.EventsDataDir)

	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig)
	cancel()
	wg.Wait()
	dsp.Close()
	return nil
}

// chainRefresher adapts chainclient.Client's common.Hash-keyed
// NextSequence to dispatcher.Refresher's sequencer.Sender-keyed form,
// since a Sender also distinguishes worker/pallet/contract origin kinds
// that the chain RPC's next-sequence lookup does not need.
type chainRefresher struct {
	client *chainclient.Client
}

func (r *chainRefresher) NextSequence(ctx context.Context, sender sequencer.Sender) (uint64, error) {
	return r.client.NextSequence(ctx, sender.ID)
}

// heightSubscriber adapts chainclient.Client's SubscribeBestBlocks, whose
// *rpc.ClientSubscription return value already satisfies height.Subscription
// structurally, to the height.Subscriber interface's signature.
type heightSubscriber struct {
	client *chainclient.Client
}

func (s *heightSubscriber) SubscribeBestBlocks(ctx context.Context, ch chan<- chainclient.Header) (height.Subscription, error) {
	return s.client.SubscribeBestBlocks(ctx, ch)
}

// multiSink fans one height.Sink observation out to several.
type multiSink []height.Sink

func (m multiSink) CurrentHeight(h uint32) {
	for _, s := range m {
		s.CurrentHeight(h)
	}
}

// sidevmSweep re-applies cache quotas and restart sweeps on every height
// tick, but only actually recomputes quotas when a weight or membership
// change is pending.
type sidevmSweep struct {
	registry *registry.Registry
	cache    *localcache.MemCache
	spawner  registry.Spawner
}

func (s *sidevmSweep) CurrentHeight(h uint32) {
	s.registry.TryRestartSidevms(s.spawner, h)
	if !s.registry.WeightChanged() {
		return
	}
	if err := s.registry.ApplyLocalCacheQuotas(s.cache); err != nil {
		log.Warn("failed to apply local cache quotas", "block", h, "err", err)
	}
}

// noopSpawner is the sidevm-restart stand-in: the contract VM itself is an
// explicitly opaque collaborator (§1 Non-goals), so a worker without one
// attached just logs the request.
type noopSpawner struct{}

func (noopSpawner) RestartSidevmIfNeeded(addr common.Hash, currentBlock uint32) error {
	log.Debug("sidevm restart requested, no spawner attached", "contract", addr, "block", currentBlock)
	return nil
}
