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

// Package statusapi is ReplayDriver's read-only JSON-RPC surface over the
// economic-event store, adapted from the teacher's UBT outbox RPC API
// (RPCOutboxEvent / GetEvent / GetEvents / LatestSeq / CompactOutboxBelow /
// Status) onto EventRecord in place of OutboxEnvelope.
package statusapi

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Lubov66/phala-blockchain/internal/persistence"
)

// ErrNotEnabled is returned when the driver was started without event
// persistence configured.
var ErrNotEnabled = errors.New("event persistence not enabled")

// EngineStatus is the subset of replay.Engine state the status API reports
// without the caller needing to import internal/replay directly.
type EngineStatus interface {
	CurrentBlock() uint32
}

// RPCEventRecord is the JSON-serializable economic event for RPC responses.
type RPCEventRecord struct {
	Sequence    hexutil.Uint64 `json:"sequence"`
	Pubkey      hexutil.Bytes  `json:"pubkey"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TimeMs      hexutil.Uint64 `json:"timeMs"`
	Event       string         `json:"event"`
	Version     hexutil.Uint   `json:"version"`
	Payload     hexutil.Bytes  `json:"payload"`
}

func toRPCRecord(r *persistence.EventRecord) *RPCEventRecord {
	return &RPCEventRecord{
		Sequence:    hexutil.Uint64(r.Sequence),
		Pubkey:      r.Pubkey,
		BlockNumber: hexutil.Uint64(r.BlockNumber),
		TimeMs:      hexutil.Uint64(r.TimeMs),
		Event:       r.Event,
		Version:     hexutil.Uint(r.V),
		Payload:     r.Payload,
	}
}

// maxRange caps GetEvents' span, matching the teacher's outbox RPC cap.
const maxRange = 1000

// API exposes ReplayDriver's persisted economic events and engine status
// over JSON-RPC, namespaced "replay" when registered on an rpc.Server.
type API struct {
	store  *persistence.Store // nil when persistence is disabled
	engine EngineStatus
}

// New returns an API reading from store (may be nil, see ErrNotEnabled) and
// reporting engine's current block.
func New(store *persistence.Store, engine EngineStatus) *API {
	return &API{store: store, engine: engine}
}

// GetEvent returns the economic event at seq, or nil if it doesn't exist.
func (a *API) GetEvent(ctx context.Context, seq hexutil.Uint64) (*RPCEventRecord, error) {
	if a.store == nil {
		return nil, ErrNotEnabled
	}
	rec, err := a.store.Read(uint64(seq))
	if err != nil {
		if errors.Is(err, persistence.ErrEventNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toRPCRecord(rec), nil
}

// GetEvents returns economic events in [fromSeq, toSeq] inclusive, capped at
// maxRange entries.
func (a *API) GetEvents(ctx context.Context, fromSeq, toSeq hexutil.Uint64) ([]RPCEventRecord, error) {
	if a.store == nil {
		return nil, ErrNotEnabled
	}
	from, to := uint64(fromSeq), uint64(toSeq)
	if from > to {
		return nil, errors.New("fromSeq must be <= toSeq")
	}
	if to-from+1 > maxRange {
		to = from + maxRange - 1
	}
	recs, err := a.store.ReadRange(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]RPCEventRecord, len(recs))
	for i, r := range recs {
		out[i] = *toRPCRecord(r)
	}
	return out, nil
}

// LatestSeq returns the highest sequence number persisted so far.
func (a *API) LatestSeq(ctx context.Context) (hexutil.Uint64, error) {
	if a.store == nil {
		return 0, ErrNotEnabled
	}
	return hexutil.Uint64(a.store.LatestSeq()), nil
}

// CompactEventsBelow deletes persisted events below safeSeq, for a consumer
// that has durably recorded everything up to that point.
func (a *API) CompactEventsBelow(ctx context.Context, safeSeq hexutil.Uint64) (map[string]any, error) {
	if a.store == nil {
		return nil, ErrNotEnabled
	}
	count, err := a.store.CompactBelow(uint64(safeSeq))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"deleted": count,
		"safeSeq": uint64(safeSeq),
	}, nil
}

// Status reports whether persistence is enabled, the latest persisted
// sequence, and the engine's current replayed block.
func (a *API) Status(ctx context.Context) (map[string]any, error) {
	result := map[string]any{
		"persistenceEnabled": a.store != nil,
		"currentBlock":       hexutil.Uint64(a.engine.CurrentBlock()),
	}
	if a.store != nil {
		result["latestSeq"] = hexutil.Uint64(a.store.LatestSeq())
		result["lowestSeq"] = hexutil.Uint64(a.store.LowestSeq())
	}
	return result, nil
}
