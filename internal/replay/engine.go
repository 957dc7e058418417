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

// Package replay implements the deterministic block replay engine: verify
// a fetched block's storage delta against its declared state root, apply
// it, route the block's inbound messages through the gatekeeper economics
// state machine, and accumulate the events it emits for persistence.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/Lubov66/phala-blockchain/internal/chainclient"
	"github.com/Lubov66/phala-blockchain/internal/gk"
	"github.com/Lubov66/phala-blockchain/internal/mq"
	"github.com/Lubov66/phala-blockchain/internal/persistence"
)

// ErrStateRootMismatch is returned by DispatchBlock when the fetched
// block's storage delta does not reproduce its declared header state
// root. This halts replay: no further block can be trusted once this
// happens (§4.6 fatal halt).
var ErrStateRootMismatch = errors.New("state root mismatch")

// Engine is the deterministic block replay core. It owns chain storage,
// the inbound message dispatcher, and the gatekeeper economics state
// machine, and advances them one block at a time.
type Engine struct {
	NextEventSeq int64
	CurrentBlock uint32

	Storage    ChainStorage
	dispatcher *mq.Dispatcher
	gk         *gk.Economics
	gkLaunched bool

	// blockMu guards CurrentBlock against the one cross-goroutine reader:
	// a status-API server reading it concurrently with DispatchBlock's
	// single replay-loop goroutine advancing it. Every other accessor
	// (tests, checkpoint save/load) runs single-threaded and never
	// overlaps a concurrent writer, so it reaches the field directly.
	blockMu sync.Mutex
}

// New returns an Engine seeded with genesis storage, with no gatekeeper
// launched and sequence numbering starting at zero.
func New(storage ChainStorage) *Engine {
	return &Engine{
		Storage:    storage,
		dispatcher: mq.NewDispatcher(),
		gk:         gk.New(),
	}
}

// RegisterGatekeeperPubkey adds a pubkey that receives economics events
// once the gatekeeper has launched.
func (e *Engine) RegisterGatekeeperPubkey(pk []byte) {
	e.gk.RegisterPubkey(pk)
}

// DispatchBlock verifies block's storage delta against its declared
// header, applies it, routes its inbound messages, and advances
// CurrentBlock. It returns ErrStateRootMismatch — the only fatal error —
// when the fetched delta does not reproduce the header's state root.
// Flushing emitted economics events to sink suspends on backpressure (§4.6);
// ctx is the only way to unstick that suspension, on shutdown.
func (e *Engine) DispatchBlock(ctx context.Context, block chainclient.BlockChanges, sink chan<- *persistence.EventRecord) error {
	stateRoot, pending := e.Storage.CalcRootIfChanges(
		toChanges(block.MainChanges),
		flattenChildChanges(block.ChildChanges),
	)
	if block.Header.StateRoot != stateRoot {
		return fmt.Errorf("%w: block %d want=%s got=%s", ErrStateRootMismatch,
			block.Header.Number, block.Header.StateRoot, stateRoot)
	}

	e.Storage.ApplyChanges(stateRoot, pending)
	if err := e.handleInboundMessages(ctx, block.Header.Number, sink); err != nil {
		return err
	}
	e.blockMu.Lock()
	e.CurrentBlock = block.Header.Number
	e.blockMu.Unlock()
	currentBlockGauge.Update(int64(block.Header.Number))
	return nil
}

// CurrentBlockNumber returns the last block number advanced by
// DispatchBlock. Safe to call concurrently with DispatchBlock, unlike a
// direct read of the CurrentBlock field.
func (e *Engine) CurrentBlockNumber() uint32 {
	e.blockMu.Lock()
	defer e.blockMu.Unlock()
	return e.CurrentBlock
}

// handleInboundMessages reads the current block's queued mq messages from
// storage, drives the gatekeeper economics state machine across them, and
// flushes any emitted events to sink. The flush blocks until the consumer
// has room (§4.6: "await backpressure") — the only way out of a full sink
// is ctx being cancelled, never a silent drop.
func (e *Engine) handleInboundMessages(ctx context.Context, blockNumber uint32, sink chan<- *persistence.EventRecord) error {
	messages := e.Storage.MQMessages()
	nowMs := e.Storage.TimestampNow()

	e.dispatcher.Reset()

	var records []*persistence.EventRecord
	handler := func(ev gk.Event) {
		log.Debug("economics event", "event", ev.Name, "pubkey", ev.Pubkey)
		records = append(records, &persistence.EventRecord{
			Sequence:    e.NextEventSeq,
			Pubkey:      ev.Pubkey,
			BlockNumber: blockNumber,
			TimeMs:      nowMs,
			Event:       ev.Name,
			Payload:     ev.Payload,
		})
		e.NextEventSeq++
	}

	e.gk.WillProcessBlock(blockNumber)
	for _, msg := range messages {
		log.Debug("mq message", "sender", msg.Sender, "dst", msg.Destination,
			"payload", describePayload(msg))

		if !e.gkLaunched {
			if !mq.IsGatekeeperLaunch(msg) {
				continue
			}
			log.Info("gatekeeper launched", "block", blockNumber)
			if params := e.Storage.TokenomicParameters(); params != nil {
				e.gk.SetTokenomicParameters(gk.TokenomicParameters{Raw: params})
			}
			e.gkLaunched = true
		}
		e.dispatcher.Dispatch(msg)
		e.gk.ProcessMessages(blockNumber, msg, handler)
	}

	if e.gkLaunched {
		e.gk.DidProcessBlock(blockNumber, handler)
		for _, rec := range records {
			select {
			case sink <- rec:
				economicEventsCounter.Inc(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if n := e.dispatcher.Residual(); n > 0 {
		log.Warn("unhandled inbound messages dropped", "count", n, "block", blockNumber)
	}
	return nil
}

func describePayload(msg mq.Message) string {
	s, _ := mq.TryDecode(msg.Destination, msg.Payload)
	return s
}

func toChanges(in []chainclient.StorageChange) []Change {
	out := make([]Change, len(in))
	for i, c := range in {
		out[i] = Change{Key: c.Key, Value: c.Value}
	}
	return out
}

// flattenChildChanges folds child-trie changes into the flat key space
// MemStorage's reference implementation uses, namespacing each child's
// keys by its trie path so two children can't collide. A real
// ChainStorage with genuine child tries would keep these separate; the
// reference storage here has no such concept (§1 Non-goals).
func flattenChildChanges(in map[string][]chainclient.StorageChange) []Change {
	var out []Change
	for path, changes := range in {
		for _, c := range changes {
			out = append(out, Change{Key: append([]byte(path+"/"), c.Key...), Value: c.Value})
		}
	}
	return out
}
