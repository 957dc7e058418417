// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package replaydriver is the fetch/wait/dispatch loop around a
// replay.Engine: it fetches genesis or a checkpoint, pulls one block of
// storage changes at a time once the node reports it finalized, feeds it
// to the engine, and rotates checkpoint files at a configured interval.
package replaydriver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/Lubov66/phala-blockchain/internal/chainclient"
	"github.com/Lubov66/phala-blockchain/internal/persistence"
	"github.com/Lubov66/phala-blockchain/internal/replay"
	"github.com/Lubov66/phala-blockchain/internal/workerconfig"
)

// reconnectBackoff is the fixed delay between reconnect attempts after a
// restart-required RPC error, and between retries of a transient fetch
// failure.
const reconnectBackoff = 5 * time.Second

// ChainClient is the subset of chainclient.Client the driver needs; a
// narrow interface so tests can fake the chain without a real RPC
// endpoint.
type ChainClient interface {
	GenesisStoragePairs(ctx context.Context, number uint32) ([]chainclient.StorageChange, error)
	HeaderAt(ctx context.Context, number uint32) (chainclient.Header, error)
	StorageChanges(ctx context.Context, from, to uint32) (chainclient.BlockChanges, error)
	FinalizedNumber(ctx context.Context) (uint32, error)
	SyncState(ctx context.Context) (chainclient.SyncState, error)
	Reconnect()
}

// Driver owns a replay.Engine and drives it forward one fetched block at
// a time.
type Driver struct {
	client ChainClient
	cfg    workerconfig.ReplayConfig

	engine  *replay.Engine
	storage *replay.MemStorage

	store     *persistence.Store
	eventSink chan *persistence.EventRecord

	lastCheckpointBlock uint32
}

// New constructs a Driver, restoring from a checkpoint when one is found
// (explicit RestoreFrom, or checkpoint.latest) and otherwise fetching
// genesis storage at StartAt.
func New(ctx context.Context, client ChainClient, cfg workerconfig.ReplayConfig) (*Driver, error) {
	d := &Driver{client: client, cfg: cfg, storage: replay.NewMemStorage(64 * 1024 * 1024)}

	if path, ok := checkpointPath(cfg.RestoreFrom); ok {
		log.Info("restoring from checkpoint", "path", path)
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
		}
		defer f.Close()
		engine, err := replay.Load(f, d.storage)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
		}
		d.engine = engine
	} else {
		pairs, err := client.GenesisStoragePairs(ctx, cfg.StartAt)
		if err != nil {
			return nil, fmt.Errorf("fetch genesis storage at block %d: %w", cfg.StartAt, err)
		}
		d.storage.LoadGenesis(toReplayChanges(pairs))
		d.engine = replay.New(d.storage)
	}
	d.lastCheckpointBlock = d.engine.CurrentBlock

	if cfg.PersistEventsTo != "" {
		store, err := persistence.Open(cfg.PersistEventsTo, 0)
		if err != nil {
			return nil, fmt.Errorf("open event store at %s: %w", cfg.PersistEventsTo, err)
		}
		d.store = store
		d.eventSink = make(chan *persistence.EventRecord, persistence.EventChannelCapacity)
		go d.persistEvents()
	} else {
		d.eventSink = make(chan *persistence.EventRecord, persistence.EventChannelCapacity)
		go d.drainEvents()
	}
	return d, nil
}

// Engine returns the driven replay engine, for a status server to read
// (under whatever locking the caller arranges).
func (d *Driver) Engine() *replay.Engine { return d.engine }

// Store returns the event-persistence store, or nil when the driver was
// started without PersistEventsTo set.
func (d *Driver) Store() *persistence.Store { return d.store }

// Close stops the event-sink drain goroutine and, if event persistence
// was enabled, closes the underlying store.
func (d *Driver) Close() error {
	close(d.eventSink)
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Driver) persistEvents() {
	for rec := range d.eventSink {
		if _, err := d.store.Append(rec); err != nil {
			log.Error("failed to persist economics event", "seq", rec.Sequence, "err", err)
		}
	}
}

func (d *Driver) drainEvents() {
	for range d.eventSink {
	}
}

// Run fetches and dispatches blocks until ctx is cancelled. When StopAt is
// non-zero it stops fetching once it reaches StopAt (exclusive) and then
// waits for ctx to be cancelled. A
// restart-required RPC error reconnects the client and retries; any other
// fetch error is logged and retried after reconnectBackoff. A state-root
// mismatch from the engine is fatal and returned immediately — replay
// cannot safely continue past it.
func (d *Driver) Run(ctx context.Context) error {
	stopAt := uint32(math.MaxUint32)
	if d.cfg.StopAt != 0 {
		stopAt = d.cfg.StopAt
	}

	blockNumber := d.cfg.StartAt + 1
	if d.lastCheckpointBlock != 0 {
		blockNumber = d.lastCheckpointBlock + 1
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if blockNumber >= stopAt {
			log.Info("replay finished", "stop_at", stopAt)
			<-ctx.Done()
			return ctx.Err()
		}

		if err := d.waitForBlock(ctx, blockNumber); err != nil {
			if chainclient.IsRestartRequired(err) {
				d.reconnect(ctx)
				continue
			}
			log.Error("wait for block failed", "block", blockNumber, "err", err)
		}

		err := d.fetchAndDispatch(ctx, blockNumber)
		if err == nil {
			blockNumber++
			continue
		}
		if errors.Is(err, replay.ErrStateRootMismatch) {
			return err
		}
		if chainclient.IsRestartRequired(err) {
			log.Error("chain client requires restart", "err", err)
			d.reconnect(ctx)
			continue
		}
		log.Error("fetch block failed, retrying", "block", blockNumber, "err", err)
		sleep(ctx, reconnectBackoff)
	}
}

func (d *Driver) reconnect(ctx context.Context) {
	d.client.Reconnect()
	sleep(ctx, reconnectBackoff)
}

func (d *Driver) waitForBlock(ctx context.Context, block uint32) error {
	for {
		finalized, err := d.client.FinalizedNumber(ctx)
		if err != nil {
			finalized = 0
		}
		state, err := d.client.SyncState(ctx)
		if err != nil {
			return err
		}
		assumeFinalized := d.cfg.AssumeFinalized
		effectiveFinalized := finalized
		if assumeFinalized > effectiveFinalized {
			effectiveFinalized = assumeFinalized
		}
		if block <= state.CurrentBlock && block <= effectiveFinalized {
			return nil
		}
		log.Info("waiting for block to be finalized", "block", block,
			"finalized", finalized, "assume_finalized", assumeFinalized, "latest", state.CurrentBlock)
		sleep(ctx, reconnectBackoff)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *Driver) fetchAndDispatch(ctx context.Context, blockNumber uint32) error {
	bc, err := d.client.StorageChanges(ctx, blockNumber, blockNumber)
	if err != nil {
		return err
	}
	header, err := d.client.HeaderAt(ctx, blockNumber)
	if err != nil {
		return err
	}
	bc.Header = header

	log.Info("replaying block", "block", blockNumber)
	if err := d.engine.DispatchBlock(ctx, bc, d.eventSink); err != nil {
		return err
	}

	if d.cfg.CheckpointInterval > 0 && blockNumber >= d.cfg.CheckpointInterval+d.lastCheckpointBlock {
		if err := d.takeCheckpoint(blockNumber); err != nil {
			log.Error("failed to take checkpoint", "block", blockNumber, "err", err)
		} else {
			d.lastCheckpointBlock = blockNumber
		}
	}
	return nil
}

func toReplayChanges(in []chainclient.StorageChange) []replay.Change {
	out := make([]replay.Change, len(in))
	for i, c := range in {
		out[i] = replay.Change{Key: c.Key, Value: c.Value}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
