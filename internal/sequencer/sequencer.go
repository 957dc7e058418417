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

// Package sequencer implements the per-sender message sequencer and retry
// engine: it accepts batches of signed messages grouped by sender, admits
// them against each sender's known pending-message state, and tracks their
// submission/completion lifecycle with blockchain-height-based timeout and
// grace-window semantics.
//
// All exported methods here assume single-threaded access — enforced by
// dispatcher.Dispatcher owning the one Core instance, never by locking
// inside this package (see package dispatcher).
package sequencer

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/Lubov66/phala-blockchain/internal/mq"
	"github.com/Lubov66/phala-blockchain/internal/txsubmitter"
)

// TxTimeoutInBlocks is the window, in blocks after SubmittedAt, during
// which a Pending or Timeout message is still treated as in flight. A
// Failure gets no window and is re-admitted at once.
const TxTimeoutInBlocks = 6

// Sender is the opaque, comparable identity of a message's logical origin.
type Sender = mq.Origin

// State is the lifecycle state of one in-flight sequence.
type State int

const (
	Pending State = iota
	Successful
	Failure
	Timeout
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Successful:
		return "successful"
	case Timeout:
		return "timeout"
	default:
		return "failure"
	}
}

// SignedMessage is one opaque, per-sender sequenced message.
type SignedMessage struct {
	Sequence uint64
	Payload  []byte
}

// MessageContext tracks one in-flight sequence for one sender.
type MessageContext struct {
	Sender      Sender
	Sequence    uint64
	State       State
	SubmittedAt uint32
	RetryCount  int
}

// isPending reports whether this context should still be treated as
// in-flight at height h: Pending and Timeout both grant a grace window of
// TxTimeoutInBlocks after SubmittedAt, per §4.3.5 — a Timeout is not
// resubmitted until the window has fully elapsed, avoiding duplicate
// submissions against a node that simply hasn't caught up yet.
func (m *MessageContext) isPending(h uint32) bool {
	switch m.State {
	case Pending, Timeout:
		if h <= m.SubmittedAt {
			return true
		}
		delta := h - m.SubmittedAt
		return delta <= TxTimeoutInBlocks
	default:
		return false
	}
}

func (m *MessageContext) isPendingOrSuccess(h uint32) bool {
	return m.isPending(h) || m.State == Successful
}

func (m *MessageContext) isTimeoutOrFailure(h uint32) bool {
	return !m.isPendingOrSuccess(h)
}

// SenderContext is the per-sender sequencing state.
type SenderContext struct {
	Sender           Sender
	NodeNextSequence uint64
	Pending          map[uint64]*MessageContext
}

func newSenderContext(sender Sender) *SenderContext {
	return &SenderContext{Sender: sender, Pending: make(map[uint64]*MessageContext)}
}

// calculateNextSequence advances from NodeNextSequence while a contiguous
// run of known sequences are pending-or-success at height h; the first
// sequence failing that predicate is the expected next one (§4.3.4).
func (sc *SenderContext) calculateNextSequence(h uint32) uint64 {
	seq := sc.NodeNextSequence
	for {
		mc, ok := sc.Pending[seq]
		if !ok || !mc.isPendingOrSuccess(h) {
			return seq
		}
		seq++
	}
}

// Core is the per-sender sequencer and retry engine. Not safe for
// concurrent use — see package doc.
type Core struct {
	senders map[Sender]*SenderContext
}

// New returns an empty Core.
func New() *Core {
	return &Core{senders: make(map[Sender]*SenderContext)}
}

// AdmitBatch implements the admission filter (§4.3.1). For a known sender
// it keeps only messages whose MessageContext is absent or reports
// is_timeout_or_failure(currentHeight); for an unknown sender it accepts
// everything as a candidate.
func (c *Core) AdmitBatch(sender Sender, currentHeight uint32, messages []SignedMessage) []SignedMessage {
	sc, known := c.senders[sender]
	if !known {
		out := make([]SignedMessage, len(messages))
		copy(out, messages)
		return out
	}
	out := make([]SignedMessage, 0, len(messages))
	for _, m := range messages {
		mc, exists := sc.Pending[m.Sequence]
		if !exists || mc.isTimeoutOrFailure(currentHeight) {
			out = append(out, m)
		}
	}
	return out
}

// Submission is one message accepted by the submission stage, ready to be
// handed to the external TxSubmitter.
type Submission struct {
	Sender   Sender
	Sequence uint64
	Payload  []byte
}

// Submit implements the submission stage (§4.3.3): it creates or updates
// the SenderContext, overwrites NodeNextSequence if freshNextSequence is
// non-nil, then for each message in input order accepts it only if its
// sequence equals the currently expected one, upserting its
// MessageContext to Pending and returning it for dispatch to the external
// TxSubmitter. Returns (nil, false) if the batch must be abandoned: a new
// sender with no fresh sequence to bootstrap from.
func (c *Core) Submit(sender Sender, currentHeight uint32, freshNextSequence *uint64, batch []SignedMessage) ([]Submission, bool) {
	sc, known := c.senders[sender]
	if !known {
		if freshNextSequence == nil {
			log.Warn("sequencer: new sender with no fresh sequence, dropping batch", "sender", sender)
			return nil, false
		}
		sc = newSenderContext(sender)
		c.senders[sender] = sc
	}
	if freshNextSequence != nil {
		sc.NodeNextSequence = *freshNextSequence
	}

	var out []Submission
	for _, m := range batch {
		expected := sc.calculateNextSequence(currentHeight)
		if m.Sequence != expected {
			continue
		}
		mc, exists := sc.Pending[m.Sequence]
		if !exists {
			mc = &MessageContext{Sender: sender, Sequence: m.Sequence}
			sc.Pending[m.Sequence] = mc
		} else {
			mc.RetryCount++
		}
		mc.State = Pending
		mc.SubmittedAt = currentHeight
		out = append(out, Submission{Sender: sender, Sequence: m.Sequence, Payload: m.Payload})
	}
	return out, true
}

// Completed handles a submission outcome reported back for (sender,
// sequence) (§4.3.6). Unknown sender or sequence is logged and dropped.
func (c *Core) Completed(sender Sender, sequence uint64, result txsubmitter.SubmitResult) {
	sc, ok := c.senders[sender]
	if !ok {
		log.Warn("sequencer: completion for unknown sender, dropping", "sender", sender, "sequence", sequence)
		return
	}
	mc, ok := sc.Pending[sequence]
	if !ok {
		log.Warn("sequencer: completion for unknown sequence, dropping", "sender", sender, "sequence", sequence)
		return
	}
	switch result.Outcome {
	case txsubmitter.OutcomeSuccess:
		mc.State = Successful
	case txsubmitter.OutcomeTimeout:
		mc.State = Timeout
		log.Info("sequencer: submission timed out", "sender", sender, "sequence", sequence, "correlation", result.CorrelationID)
	default:
		mc.State = Failure
		log.Warn("sequencer: submission failed", "sender", sender, "sequence", sequence, "err", result.Err, "correlation", result.CorrelationID)
	}
}

// RemoveSender drops the entire SenderContext for sender; all pending
// bookkeeping is discarded (§4.3.7).
func (c *Core) RemoveSender(sender Sender) {
	delete(c.senders, sender)
}

// NextSequence exposes calculateNextSequence for observers (tests, status
// reporting) without requiring direct field access.
func (c *Core) NextSequence(sender Sender, h uint32) (uint64, bool) {
	sc, ok := c.senders[sender]
	if !ok {
		return 0, false
	}
	return sc.calculateNextSequence(h), true
}

// MessageState returns the current state of (sender, sequence), if known.
func (c *Core) MessageState(sender Sender, sequence uint64) (State, bool) {
	sc, ok := c.senders[sender]
	if !ok {
		return 0, false
	}
	mc, ok := sc.Pending[sequence]
	if !ok {
		return 0, false
	}
	return mc.State, true
}

// KnownSender reports whether sender has a SenderContext.
func (c *Core) KnownSender(sender Sender) bool {
	_, ok := c.senders[sender]
	return ok
}
