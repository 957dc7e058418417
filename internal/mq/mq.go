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

// Package mq implements the message-queue collaborator the replay engine
// routes inbound messages through: a deterministic, topic-indexed dispatch
// table with a resettable local index, and the known-payload decode-attempt
// helper used for diagnostics and gatekeeper-launch detection.
package mq

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// OriginKind distinguishes the three message-sender origins the core
// treats as opaque comparable keys.
type OriginKind uint8

const (
	OriginWorker OriginKind = iota
	OriginPallet
	OriginContract
)

// Origin identifies the logical sender of a message.
type Origin struct {
	Kind OriginKind
	ID   common.Hash
}

// IsPallet reports whether this origin is a pallet (on-chain runtime)
// origin, the only origin kind eligible to emit a gatekeeper-launch event.
func (o Origin) IsPallet() bool { return o.Kind == OriginPallet }

// Message is one inbound message read from chain storage: an opaque
// payload addressed to a topic, from an origin.
type Message struct {
	Sender      Origin
	Destination string // topic path
	Payload     []byte
}

// GatekeeperLaunchTopic is the topic path gatekeeper-launch events are
// published to.
const GatekeeperLaunchTopic = "phala/gatekeeper/launch"

// MasterPubkeyOnChainVariant is the GatekeeperLaunch enum discriminant that
// signals the one-time "economics processing may now begin" event. The
// wire encoding is SCALE-like: a single leading variant byte.
const MasterPubkeyOnChainVariant = 0

// IsGatekeeperLaunch reports whether msg is the one-time event that enables
// economics processing: a pallet-origin message on the gatekeeper-launch
// topic whose payload decodes to the MasterPubkeyOnChain variant.
func IsGatekeeperLaunch(msg Message) bool {
	if !msg.Sender.IsPallet() {
		return false
	}
	if msg.Destination != GatekeeperLaunchTopic {
		return false
	}
	if len(msg.Payload) == 0 {
		return false
	}
	return msg.Payload[0] == MasterPubkeyOnChainVariant
}

// Dispatcher is a deterministic, re-indexable routing table keyed by topic.
// ReplayEngine resets its local index at the start of every block so
// dispatch order is reproducible given identical storage.
type Dispatcher struct {
	routes    map[string][]Message
	index     map[string]int
	residuals int
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[string][]Message), index: make(map[string]int)}
}

// Reset discards all routed messages and the local per-topic read index,
// matching the "reset the message dispatcher" step at the start of
// handling a block's inbound messages: each block starts with an empty
// dispatch table.
func (d *Dispatcher) Reset() {
	d.routes = make(map[string][]Message)
	d.index = make(map[string]int)
	d.residuals = 0
}

// Dispatch routes msg to its destination topic.
func (d *Dispatcher) Dispatch(msg Message) {
	d.routes[msg.Destination] = append(d.routes[msg.Destination], msg)
}

// Drain returns and removes all messages routed to topic since the last
// Reset, advancing the local index.
func (d *Dispatcher) Drain(topic string) []Message {
	all := d.routes[topic]
	start := d.index[topic]
	if start >= len(all) {
		return nil
	}
	out := all[start:]
	d.index[topic] = len(all)
	return out
}

// Residual returns the count of messages routed to topics nobody ever
// drained since the last Reset — a warning signal of a producer/consumer
// topic mismatch, not a fatal condition.
func (d *Dispatcher) Residual() int {
	total := 0
	for topic, all := range d.routes {
		total += len(all) - d.index[topic]
	}
	return total
}

// TryDecode attempts to interpret raw as one of a fixed set of known
// message payload shapes, returning the first successful decode. It exists
// for diagnostics (logging a human-readable form of an undispatched
// message) and mirrors the Rust try-cascade this is ported from: on total
// failure it falls back to a hex dump, never an error.
func TryDecode(topic string, raw []byte) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	for _, shape := range knownShapes {
		if shape.topic == topic {
			return shape.describe(raw), true
		}
	}
	return hex.EncodeToString(raw), false
}

type knownShape struct {
	topic    string
	describe func([]byte) string
}

var knownShapes = []knownShape{
	{topic: GatekeeperLaunchTopic, describe: func(b []byte) string {
		if len(b) > 0 && b[0] == MasterPubkeyOnChainVariant {
			return "GatekeeperLaunch::MasterPubkeyOnChain"
		}
		return "GatekeeperLaunch::Unknown"
	}},
}
