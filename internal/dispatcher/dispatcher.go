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

// Package dispatcher is the single-consumer event loop that owns all
// sequencer.Core state and routes ingest, height, and completion events
// into it, scheduling outbound submissions as independent goroutines that
// report back asynchronously. Exactly one Run goroutine exists per
// Dispatcher, which is what makes sequencer.Core's single-threaded
// contract hold.
package dispatcher

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/Lubov66/phala-blockchain/internal/sequencer"
	"github.com/Lubov66/phala-blockchain/internal/txsubmitter"
)

// Refresher looks up a sender's authoritative next sequence from the chain
// client. It is the only network-bound step in the ingest path and runs
// concurrently, outside the event loop.
type Refresher interface {
	NextSequence(ctx context.Context, sender sequencer.Sender) (uint64, error)
}

// syncMessages is the raw ingest event: an admitted batch that still needs
// a next-sequence refresh before it can be submitted.
type syncMessages struct {
	workerID string
	poolID   uint64
	sender   sequencer.Sender
	messages []sequencer.SignedMessage
}

// senderQueue accumulates admitted messages for a sender that arrive while
// a refresh cycle is already in flight for it, so they are queued and
// flushed into the next cycle rather than dropped or raced against it.
type senderQueue struct {
	poolID   uint64
	messages []sequencer.SignedMessage
}

// doSyncMessages carries a (possibly nil) freshly-learned next sequence
// back into the loop for the submission stage, deferred so the mutation
// stays linearizable with height ticks and other batches for the sender.
type doSyncMessages struct {
	poolID    uint64
	sender    sequencer.Sender
	fresh     *uint64
	messages  []sequencer.SignedMessage
}

type completed struct {
	sender   sequencer.Sender
	sequence uint64
	result   txsubmitter.SubmitResult
}

type removeSender struct {
	sender sequencer.Sender
}

type currentHeight struct {
	height uint32
}

// Dispatcher is the event loop described above.
type Dispatcher struct {
	core      *sequencer.Core
	refresher Refresher
	submitter txsubmitter.Submitter

	events chan any

	mu     sync.Mutex
	height uint32

	// queued and refreshing are only ever touched from the single Run
	// goroutine (handleSyncMessages/handleDoSyncMessages), so they need no
	// locking of their own: a sender's refresh cycle runs start-to-finish
	// before its queued follow-up batch is picked up, which is what keeps
	// per-sender submission order intact across concurrent SyncMessages
	// calls.
	queued     map[sequencer.Sender]*senderQueue
	refreshing map[sequencer.Sender]bool

	wg sync.WaitGroup
}

// New returns a Dispatcher ready to Run. eventQueueSize sizes the event
// channel buffer; callers should pick something generous (thousands) since
// the loop must never be slowed by backpressure from producers.
func New(core *sequencer.Core, refresher Refresher, submitter txsubmitter.Submitter, eventQueueSize int) *Dispatcher {
	return &Dispatcher{
		core:       core,
		refresher:  refresher,
		submitter:  submitter,
		events:     make(chan any, eventQueueSize),
		queued:     make(map[sequencer.Sender]*senderQueue),
		refreshing: make(map[sequencer.Sender]bool),
	}
}

// SyncMessages enqueues an ingest batch for admission and refresh.
func (d *Dispatcher) SyncMessages(workerID string, poolID uint64, sender sequencer.Sender, messages []sequencer.SignedMessage) {
	d.events <- syncMessages{workerID: workerID, poolID: poolID, sender: sender, messages: messages}
}

// Completed enqueues a submission outcome.
func (d *Dispatcher) Completed(sender sequencer.Sender, sequence uint64, result txsubmitter.SubmitResult) {
	d.events <- completed{sender: sender, sequence: sequence, result: result}
}

// RemoveSender enqueues a sender-removal request.
func (d *Dispatcher) RemoveSender(sender sequencer.Sender) {
	d.events <- removeSender{sender: sender}
}

// CurrentHeight enqueues a new best-height observation.
func (d *Dispatcher) CurrentHeight(h uint32) {
	d.events <- currentHeight{height: h}
}

// Close stops accepting new events. Run exits once the closed channel has
// drained, or earlier if the ctx passed to Run is cancelled.
func (d *Dispatcher) Close() {
	close(d.events)
}

// Run drains the event queue until ctx is cancelled or the queue is
// closed and empty. It is the single owner of the sequencer.Core and the
// last-observed height.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case ev, open := <-d.events:
			if !open {
				d.wg.Wait()
				return
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case syncMessages:
		d.handleSyncMessages(ctx, e)
	case doSyncMessages:
		d.handleDoSyncMessages(ctx, e)
	case completed:
		d.core.Completed(e.sender, e.sequence, e.result)
	case removeSender:
		d.core.RemoveSender(e.sender)
	case currentHeight:
		d.mu.Lock()
		d.height = e.height
		d.mu.Unlock()
		dispatcherHeightGauge.Update(int64(e.height))
	}
}

func (d *Dispatcher) currentHeightSnapshot() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.height
}

// handleSyncMessages runs the admission filter synchronously, then, if
// anything survived, hands the batch to the refresh stage per §4.3.1. A
// sender with no refresh cycle already running starts one immediately; a
// sender already mid-refresh has the new batch queued onto senderQueue
// rather than dropped or started concurrently — two independent refresh
// goroutines racing to post doSyncMessages for the same sender could
// resolve out of order and let a later-arriving lower sequence jump ahead
// of (and permanently strand) an earlier-arriving one, since Submit has no
// way to recover a sequence it skipped. Serializing per sender keeps
// submission order equal to arrival order.
func (d *Dispatcher) handleSyncMessages(ctx context.Context, e syncMessages) {
	h := d.currentHeightSnapshot()
	admitted := d.core.AdmitBatch(e.sender, h, e.messages)
	if len(admitted) == 0 {
		return
	}

	if d.refreshing[e.sender] {
		q, ok := d.queued[e.sender]
		if !ok {
			q = &senderQueue{poolID: e.poolID}
			d.queued[e.sender] = q
		}
		q.messages = append(q.messages, admitted...)
		return
	}

	d.refreshing[e.sender] = true
	d.spawnRefresh(ctx, e.sender, e.poolID, admitted)
}

// spawnRefresh runs the RPC-bound next-sequence refresh for sender as an
// independent task, posting doSyncMessages back to the loop on completion.
func (d *Dispatcher) spawnRefresh(ctx context.Context, sender sequencer.Sender, poolID uint64, messages []sequencer.SignedMessage) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var fresh *uint64
		seq, err := d.refresher.NextSequence(ctx, sender)
		if err != nil {
			log.Warn("dispatcher: next-sequence refresh failed, reusing last known", "sender", sender, "err", err)
		} else {
			fresh = &seq
		}
		select {
		case d.events <- doSyncMessages{poolID: poolID, sender: sender, fresh: fresh, messages: messages}:
		case <-ctx.Done():
		}
	}()
}

// handleDoSyncMessages runs the submission stage synchronously in-loop,
// then spawns one independent goroutine per accepted submission; each
// posts a Completed event back when its RPC resolves. Once the stage
// completes, any batch that queued for this sender while the refresh was
// in flight starts its own refresh cycle immediately — the sender stays
// marked refreshing until its queue is empty.
func (d *Dispatcher) handleDoSyncMessages(ctx context.Context, e doSyncMessages) {
	h := d.currentHeightSnapshot()
	subs, ok := d.core.Submit(e.sender, h, e.fresh, e.messages)
	if ok {
		for _, s := range subs {
			s := s
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				result := d.submitter.Submit(ctx, e.poolID, txsubmitter.SignedMessage{Sequence: s.Sequence, Payload: s.Payload})
				submissionLatency.Inc(1)
				select {
				case d.events <- completed{sender: s.Sender, sequence: s.Sequence, result: result}:
				case <-ctx.Done():
				}
			}()
		}
	}

	q, queued := d.queued[e.sender]
	if !queued {
		d.refreshing[e.sender] = false
		return
	}
	delete(d.queued, e.sender)
	d.spawnRefresh(ctx, e.sender, q.poolID, q.messages)
}
