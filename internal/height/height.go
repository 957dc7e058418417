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

// Package height runs a background best-block subscription and feeds
// current-height observations into the dispatcher, retrying indefinitely
// on transport loss without ever blocking the dispatcher loop.
package height

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/Lubov66/phala-blockchain/internal/chainclient"
)

// RetryBackoff is how long HeightTracker waits after a subscription
// failure before trying again.
const RetryBackoff = 1 * time.Second

// Sink receives current-height observations.
type Sink interface {
	CurrentHeight(h uint32)
}

// Subscription is an active best-block subscription. *rpc.ClientSubscription
// satisfies this directly.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Subscriber yields best-block headers. chainclient.Client satisfies this
// once its SubscribeBestBlocks return value is upcast to Subscription by
// the caller wiring the two packages together (see cmd/worker).
type Subscriber interface {
	SubscribeBestBlocks(ctx context.Context, ch chan<- chainclient.Header) (Subscription, error)
}

// Tracker runs the background best-block subscription loop.
type Tracker struct {
	sub  Subscriber
	sink Sink
}

// New returns a Tracker that reads headers from sub and posts heights to
// sink.
func New(sub Subscriber, sink Sink) *Tracker {
	return &Tracker{sub: sub, sink: sink}
}

// Run subscribes to best blocks and forwards every header's number to the
// sink until ctx is cancelled. On subscription failure or transport loss
// it retries with RetryBackoff indefinitely; it must be run in its own
// goroutine since it never returns until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := t.runOnce(ctx); err != nil {
			log.Warn("height tracker: subscription lost, retrying", "err", err, "backoff", RetryBackoff)
			select {
			case <-time.After(RetryBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Tracker) runOnce(ctx context.Context) error {
	ch := make(chan chainclient.Header, 16)
	sub, err := t.sub.SubscribeBestBlocks(ctx, ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case h := <-ch:
			t.sink.CurrentHeight(h.Number)
		}
	}
}
