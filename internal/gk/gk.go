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

// Package gk implements the computing-economics collaborator ReplayEngine
// drives through a block: an opaque economics state machine whose formulas
// are supplied by tokenomic parameters read from chain storage, not
// computed here. The core only calls it at well-defined block-processing
// hooks and accumulates the events it emits.
package gk

import (
	"encoding/json"

	"github.com/Lubov66/phala-blockchain/internal/mq"
)

// TokenomicParameters are opaque, storage-supplied economics inputs. The
// core never interprets their contents — it only carries them from
// ChainStorage into Economics at gatekeeper-launch time.
type TokenomicParameters struct {
	Raw json.RawMessage
}

// Event is one economics event produced while processing a block, before it
// is wrapped into a persistence EventRecord by the caller.
type Event struct {
	Pubkey  []byte
	Name    string
	Payload json.RawMessage
}

// Handler accumulates Events emitted during block processing. ReplayEngine
// implements this with a closure that assigns sequence numbers and appends
// to a local buffer, which is drained after the block completes — it must
// not reenter replay state.
type Handler func(Event)

// Economics is the gatekeeper/tokenomic state machine. Zero value is a
// valid, not-yet-launched economics engine.
type Economics struct {
	params  TokenomicParameters
	pubkeys [][]byte
}

// New returns an Economics with no gatekeeper pubkeys registered yet.
func New() *Economics { return &Economics{} }

// SetTokenomicParameters installs parameters read from storage at
// gatekeeper-launch time.
func (e *Economics) SetTokenomicParameters(p TokenomicParameters) { e.params = p }

// WillProcessBlock runs before any message in the block is dispatched.
func (e *Economics) WillProcessBlock(blockNumber uint32) {}

// ProcessMessages is invoked once per inbound message after it has been
// routed to the receive queue; it may emit zero or more economics events
// through handler.
func (e *Economics) ProcessMessages(blockNumber uint32, msg mq.Message, handler Handler) {
	for _, pk := range e.pubkeys {
		handler(Event{Pubkey: pk, Name: "heartbeat", Payload: nil})
	}
}

// DidProcessBlock runs once after every message in the block has been
// dispatched, only when the gatekeeper has launched.
func (e *Economics) DidProcessBlock(blockNumber uint32, handler Handler) {}

// RegisterPubkey adds a gatekeeper pubkey that will receive economics
// events from subsequent blocks.
func (e *Economics) RegisterPubkey(pk []byte) { e.pubkeys = append(e.pubkeys, pk) }

// Snapshot returns the checkpointable state of e: tokenomic parameters and
// registered pubkeys. The economics engine carries no queue or channel
// state of its own, so unlike the receive queue it round-trips directly.
func (e *Economics) Snapshot() (TokenomicParameters, [][]byte) {
	return e.params, e.pubkeys
}

// Restore replaces e's state with a previously snapshotted one.
func (e *Economics) Restore(params TokenomicParameters, pubkeys [][]byte) {
	e.params = params
	e.pubkeys = pubkeys
}
