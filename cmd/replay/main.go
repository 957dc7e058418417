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

// replay is the ReplayDriver/ReplayEngine daemon: it fetches genesis or a
// checkpoint, then pulls one block of storage changes at a time from the
// chain, verifying the state root and dispatching inbound messages to the
// computing-economics state machine.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/Lubov66/phala-blockchain/internal/chainclient"
	"github.com/Lubov66/phala-blockchain/internal/flags"
	"github.com/Lubov66/phala-blockchain/internal/replaydriver"
	"github.com/Lubov66/phala-blockchain/internal/statusapi"
	"github.com/Lubov66/phala-blockchain/internal/workerconfig"
)

var (
	app = flags.NewApp("Phala block replay daemon")

	nodeURIFlag = &cli.StringFlag{
		Name:  "node-uri",
		Usage: "Chain RPC endpoint to replay blocks from",
		Value: "ws://localhost:9944",
	}
	startAtFlag = &cli.Uint64Flag{
		Name:  "start-at",
		Usage: "Block number to fetch genesis storage at when no checkpoint is found",
		Value: 0,
	}
	stopAtFlag = &cli.Uint64Flag{
		Name:  "stop-at",
		Usage: "Block number to stop replay at, exclusive (0 = unbounded)",
		Value: 0,
	}
	assumeFinalizedFlag = &cli.Uint64Flag{
		Name:  "assume-finalized",
		Usage: "Treat blocks up to this number as finalized even if the node reports less",
		Value: 0,
	}
	bindAddrFlag = &cli.StringFlag{
		Name:  "bind-addr",
		Usage: "Listen address for the replay status RPC server",
		Value: "127.0.0.1:8561",
	}
	persistEventsToFlag = &cli.StringFlag{
		Name:  "persist-events-to",
		Usage: "Data directory for the economic-event store (empty disables persistence)",
		Value: "./replay-events",
	}
	restoreFromFlag = &cli.StringFlag{
		Name:  "restore-from",
		Usage: "Explicit checkpoint file to restore from (empty auto-discovers checkpoint.latest)",
		Value: "",
	}
	checkpointIntervalFlag = &cli.Uint64Flag{
		Name:  "checkpoint-interval",
		Usage: "Blocks between checkpoints (0 disables checkpointing)",
		Value: 1000,
	}
	cacheURIFlag = &cli.StringFlag{
		Name:  "cache-uri",
		Usage: "Address of an external header cache; accepted but not used, headers are always fetched from the node",
		Value: "",
	}
)

func init() {
	app.Action = runReplay
	app.Flags = []cli.Flag{
		nodeURIFlag,
		startAtFlag,
		stopAtFlag,
		assumeFinalizedFlag,
		bindAddrFlag,
		persistEventsToFlag,
		restoreFromFlag,
		checkpointIntervalFlag,
		cacheURIFlag,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfigFromCLI(ctx *cli.Context) *workerconfig.ReplayConfig {
	return &workerconfig.ReplayConfig{
		NodeURI:            ctx.String(nodeURIFlag.Name),
		StartAt:            uint32(ctx.Uint64(startAtFlag.Name)),
		StopAt:             uint32(ctx.Uint64(stopAtFlag.Name)),
		AssumeFinalized:    uint32(ctx.Uint64(assumeFinalizedFlag.Name)),
		BindAddr:           ctx.String(bindAddrFlag.Name),
		PersistEventsTo:    ctx.String(persistEventsToFlag.Name),
		RestoreFrom:        ctx.String(restoreFromFlag.Name),
		CheckpointInterval: uint32(ctx.Uint64(checkpointIntervalFlag.Name)),
		CacheURI:           ctx.String(cacheURIFlag.Name),
	}
}

func runReplay(cliCtx *cli.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	cfg := buildConfigFromCLI(cliCtx)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := chainclient.New(cfg.NodeURI)
	defer client.Close()

	driver, err := replaydriver.New(ctx, client, *cfg)
	if err != nil {
		return fmt.Errorf("construct replay driver: %w", err)
	}
	defer driver.Close()

	statusSrv, err := startStatusServer(cfg.BindAddr, driver)
	if err != nil {
		return fmt.Errorf("start status server: %w", err)
	}
	defer statusSrv.Close()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- driver.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("replay daemon started", "node", cfg.NodeURI, "start_at", cfg.StartAt, "stop_at", cfg.StopAt)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
		<-runErrCh
		return nil
	case err := <-runErrCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("replay stopped: %w", err)
		}
		return nil
	}
}

// engineStatus adapts replay.Engine's CurrentBlockNumber accessor, which is
// safe to call while the replay loop advances the block, to
// statusapi.EngineStatus's method form.
type engineStatus struct {
	driver *replaydriver.Driver
}

func (e engineStatus) CurrentBlock() uint32 { return e.driver.Engine().CurrentBlockNumber() }

// startStatusServer serves the read-only "replay" JSON-RPC namespace over
// HTTP at addr.
func startStatusServer(addr string, driver *replaydriver.Driver) (*http.Server, error) {
	api := statusapi.New(driver.Store(), engineStatus{driver: driver})

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("replay", api); err != nil {
		return nil, fmt.Errorf("register status api: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: rpcServer}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("status server stopped", "err", err)
		}
	}()
	log.Info("status server listening", "addr", addr)
	return srv, nil
}
