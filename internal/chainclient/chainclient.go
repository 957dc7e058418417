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

// Package chainclient is the inbound chain-client collaborator: RPC access
// to per-sender next-sequence, best-block subscription, genesis/storage
// snapshots, per-range storage changes, and header lookups, with
// reconnect-with-backoff the way the teacher's outbox reader dials geth.
package chainclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// restartRequiredMarker is the literal substring a collaborator RPC error
// uses to signal that the client must reconnect rather than retry in place.
const restartRequiredMarker = "restart required"

// IsRestartRequired reports whether err's rendered form demands a
// reconnect rather than an in-place retry.
func IsRestartRequired(err error) bool {
	return err != nil && strings.Contains(err.Error(), restartRequiredMarker)
}

// Header is the subset of a block header the core observes.
type Header struct {
	Number     uint32
	StateRoot  common.Hash
	ParentHash common.Hash
}

// StorageChange is one applied key mutation within a block's delta.
type StorageChange struct {
	Key   []byte
	Value []byte // nil means deleted
}

// BlockChanges is the per-block storage delta fetched for replay.
type BlockChanges struct {
	Header       Header
	MainChanges  []StorageChange
	ChildChanges map[string][]StorageChange
}

// Client is the chain RPC collaborator.
type Client struct {
	endpoint string

	mu             sync.Mutex
	client         *rpc.Client
	closed         bool
	timeout        time.Duration
	lastReconnect  time.Time
	reconnectDelay time.Duration
	reconnectMin   time.Duration
	reconnectMax   time.Duration
	reconnectFails uint32
}

// New returns a Client that lazily dials endpoint on first use.
func New(endpoint string) *Client {
	return &Client{
		endpoint:       endpoint,
		timeout:        30 * time.Second,
		reconnectDelay: 250 * time.Millisecond,
		reconnectMin:   250 * time.Millisecond,
		reconnectMax:   5 * time.Second,
	}
}

func (c *Client) connectLocked() error {
	if c.client != nil {
		return nil
	}
	if c.closed {
		return fmt.Errorf("chain client is closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	client, err := rpc.DialContext(ctx, c.endpoint)
	if err != nil {
		c.bumpReconnectDelayLocked()
		c.lastReconnect = time.Now()
		return fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}
	c.client = client
	c.reconnectFails = 0
	c.reconnectDelay = c.reconnectMin
	c.lastReconnect = time.Now()
	log.Info("Connected to chain RPC", "endpoint", c.endpoint)
	return nil
}

func (c *Client) bumpReconnectDelayLocked() {
	c.reconnectFails++
	delay := c.reconnectMin
	for i := uint32(0); i < c.reconnectFails; i++ {
		delay *= 2
		if delay >= c.reconnectMax {
			delay = c.reconnectMax
			break
		}
	}
	if delay < c.reconnectMin {
		delay = c.reconnectMin
	}
	c.reconnectDelay = delay
}

func (c *Client) dialWithBackoff() error {
	for {
		var waitTime time.Duration
		var closed bool
		c.mu.Lock()
		if c.client != nil {
			c.mu.Unlock()
			return nil
		}
		closed = c.closed
		if !closed {
			since := time.Since(c.lastReconnect)
			if since < c.reconnectDelay {
				waitTime = c.reconnectDelay - since
			}
		}
		c.mu.Unlock()
		if closed {
			return fmt.Errorf("chain client is closed")
		}
		if waitTime > 0 {
			time.Sleep(waitTime)
			continue
		}
		c.mu.Lock()
		err := c.connectLocked()
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return nil
	}
}

func (c *Client) acquire() (*rpc.Client, error) {
	c.mu.Lock()
	if c.client != nil {
		cl := c.client
		c.mu.Unlock()
		return cl, nil
	}
	c.mu.Unlock()

	if err := c.dialWithBackoff(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("chain client has no active RPC connection")
	}
	return c.client, nil
}

// Reconnect drops the current connection so the next call redials,
// invoked by ReplayDriver after a restart-required error.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Close releases the underlying RPC connection permanently.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// NextSequence queries mq_next_sequence for sender.
func (c *Client) NextSequence(ctx context.Context, sender common.Hash) (uint64, error) {
	cl, err := c.acquire()
	if err != nil {
		return 0, err
	}
	var result uint64
	if err := cl.CallContext(ctx, &result, "pha_mqNextSequence", sender); err != nil {
		return 0, err
	}
	return result, nil
}

// HeaderAt fetches the canonical header at the given block number.
func (c *Client) HeaderAt(ctx context.Context, number uint32) (Header, error) {
	cl, err := c.acquire()
	if err != nil {
		return Header{}, err
	}
	var h Header
	if err := cl.CallContext(ctx, &h, "chain_getHeader", number); err != nil {
		return Header{}, err
	}
	return h, nil
}

// StorageChanges fetches the storage delta for the inclusive range
// [from, to].
func (c *Client) StorageChanges(ctx context.Context, from, to uint32) (BlockChanges, error) {
	cl, err := c.acquire()
	if err != nil {
		return BlockChanges{}, err
	}
	var bc BlockChanges
	if err := cl.CallContext(ctx, &bc, "pha_getStorageChanges", from, to); err != nil {
		return BlockChanges{}, err
	}
	return bc, nil
}

// FinalizedNumber returns the highest finalized block number known to the
// node.
func (c *Client) FinalizedNumber(ctx context.Context) (uint32, error) {
	cl, err := c.acquire()
	if err != nil {
		return 0, err
	}
	var n uint32
	if err := cl.CallContext(ctx, &n, "chain_finalizedNumber"); err != nil {
		return 0, err
	}
	return n, nil
}

// BestNumber returns the current best (possibly non-finalized) block
// number known to the node.
func (c *Client) BestNumber(ctx context.Context) (uint32, error) {
	cl, err := c.acquire()
	if err != nil {
		return 0, err
	}
	var n uint32
	if err := cl.CallContext(ctx, &n, "chain_bestNumber"); err != nil {
		return 0, err
	}
	return n, nil
}

// GenesisStoragePairs fetches the full key/value snapshot at the given
// block number, used to seed a fresh ReplayEngine's ChainStorage.
func (c *Client) GenesisStoragePairs(ctx context.Context, number uint32) ([]StorageChange, error) {
	cl, err := c.acquire()
	if err != nil {
		return nil, err
	}
	var pairs []StorageChange
	if err := cl.CallContext(ctx, &pairs, "pha_getStoragePairs", number); err != nil {
		return nil, err
	}
	return pairs, nil
}

// SyncState is the node's reported sync progress, used by ReplayDriver to
// decide whether a target block is far enough along to be safely replayed.
type SyncState struct {
	CurrentBlock uint32
}

// SyncState queries the node's current sync progress.
func (c *Client) SyncState(ctx context.Context) (SyncState, error) {
	cl, err := c.acquire()
	if err != nil {
		return SyncState{}, err
	}
	var s SyncState
	if err := cl.CallContext(ctx, &s, "system_syncState"); err != nil {
		return SyncState{}, err
	}
	return s, nil
}

// SubscribeBestBlocks subscribes to new best-block headers. The returned
// subscription delivers headers on ch until unsubscribed or the
// connection drops.
func (c *Client) SubscribeBestBlocks(ctx context.Context, ch chan<- Header) (*rpc.ClientSubscription, error) {
	cl, err := c.acquire()
	if err != nil {
		return nil, err
	}
	return cl.Subscribe(ctx, "chain", ch, "subscribeBestBlocks")
}
