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

package replay

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Lubov66/phala-blockchain/internal/gk"
	"github.com/Lubov66/phala-blockchain/internal/mq"
)

// rlpCheckpoint is the wire form of a checkpoint: next_event_seq,
// current_block, storage, gk and gk_launched. The receive queue is
// excluded and rebuilt empty on load, per the checkpoint contract.
type rlpCheckpoint struct {
	NextEventSeq uint64
	CurrentBlock uint32
	StorageKeys  [][]byte
	StorageVals  [][]byte
	StorageRoot  common.Hash
	GKParams     []byte
	GKPubkeys    [][]byte
	GKLaunched   bool
}

// Dump serializes the engine's checkpointable state to w.
func (e *Engine) Dump(w io.Writer) error {
	snap, ok := e.Storage.(Snapshotter)
	if !ok {
		return fmt.Errorf("storage does not support checkpointing")
	}
	pairs, root := snap.Snapshot()
	params, pubkeys := e.gk.Snapshot()

	cp := rlpCheckpoint{
		NextEventSeq: uint64(e.NextEventSeq),
		CurrentBlock: e.CurrentBlock,
		StorageRoot:  root,
		GKParams:     params.Raw,
		GKPubkeys:    pubkeys,
		GKLaunched:   e.gkLaunched,
	}
	for _, p := range pairs {
		cp.StorageKeys = append(cp.StorageKeys, p.Key)
		cp.StorageVals = append(cp.StorageVals, p.Value)
	}
	return rlp.Encode(w, &cp)
}

// Load restores an Engine from a checkpoint previously written by Dump.
// storage must be empty; it is populated from the checkpoint's snapshot.
// A fresh mq.Dispatcher is registered for the scope of the decode via
// mq.WithDispatcher, then attached to the returned Engine — matching the
// "scoped dispatcher injection" contract: any nested type that needs to
// resolve the receive queue during decode reaches mq.Current() rather
// than one being threaded into every decode call, and the registration is
// released on every exit path including a decode error.
func Load(r io.Reader, storage ChainStorage) (*Engine, error) {
	snap, ok := storage.(Snapshotter)
	if !ok {
		return nil, fmt.Errorf("storage does not support checkpointing")
	}

	var cp rlpCheckpoint
	var decodeErr error
	dispatcher := mq.NewDispatcher()
	mq.WithDispatcher(dispatcher, func() {
		decodeErr = rlp.Decode(r, &cp)
	})
	if decodeErr != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", decodeErr)
	}

	if len(cp.StorageKeys) != len(cp.StorageVals) {
		return nil, fmt.Errorf("checkpoint storage keys/values length mismatch: %d/%d",
			len(cp.StorageKeys), len(cp.StorageVals))
	}
	pairs := make([]Change, len(cp.StorageKeys))
	for i := range cp.StorageKeys {
		pairs[i] = Change{Key: cp.StorageKeys[i], Value: cp.StorageVals[i]}
	}
	snap.Restore(pairs, cp.StorageRoot)

	e := &Engine{
		NextEventSeq: int64(cp.NextEventSeq),
		CurrentBlock: cp.CurrentBlock,
		Storage:      storage,
		dispatcher:   dispatcher,
		gk:           gk.New(),
		gkLaunched:   cp.GKLaunched,
	}
	e.gk.Restore(gk.TokenomicParameters{Raw: cp.GKParams}, cp.GKPubkeys)
	return e, nil
}
