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

// Package workerconfig holds the two daemon configurations (cmd/worker and
// cmd/replay), following the same flat-struct-plus-Validate shape as
// cmd/ubtconv's Config.
package workerconfig

import (
	"fmt"
	"time"
)

// WorkerConfig configures the SequencerCore/MessagesDispatcher/HeightTracker
// daemon.
type WorkerConfig struct {
	ChainRPCEndpoint  string
	EventsDataDir     string
	EventsRetention   uint64 // number of events to retain; 0 = unlimited
	EventChannelSize  int    // dispatcher's unbounded-queue backing channel capacity
	SubmitTimeout     time.Duration
	LocalCacheAddr    string // address of an external local cache; not read by cmd/worker, which always uses localcache.MemCache
}

// Validate checks that c describes a startable worker daemon.
func (c *WorkerConfig) Validate() error {
	if c.ChainRPCEndpoint == "" {
		return fmt.Errorf("chain-rpc-endpoint is required")
	}
	if c.EventsDataDir == "" {
		return fmt.Errorf("events-datadir is required")
	}
	if c.EventChannelSize <= 0 {
		return fmt.Errorf("event-channel-size must be > 0")
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("submit-timeout must be > 0")
	}
	return nil
}

// ReplayConfig configures the ReplayDriver/ReplayEngine daemon, named after
// the replay collaborator's CLI arguments.
type ReplayConfig struct {
	NodeURI            string
	StartAt            uint32
	StopAt             uint32 // 0 = unbounded
	AssumeFinalized    uint32
	BindAddr           string
	PersistEventsTo    string // empty disables event persistence
	RestoreFrom        string // empty triggers checkpoint.latest auto-discovery
	CheckpointInterval uint32 // 0 disables checkpointing
	CacheURI           string // not read by the replay driver; headers are always fetched from the node
}

// Validate checks that c describes a startable replay daemon.
func (c *ReplayConfig) Validate() error {
	if c.NodeURI == "" {
		return fmt.Errorf("node-uri is required")
	}
	if c.StopAt != 0 && c.StopAt <= c.StartAt {
		return fmt.Errorf("stop-at (%d) must be greater than start-at (%d)", c.StopAt, c.StartAt)
	}
	if c.BindAddr == "" {
		return fmt.Errorf("bind-addr is required")
	}
	return nil
}
