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

package persistence

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// rlpEventRecord is the RLP-encodable representation of EventRecord. RLP
// has no native signed-integer support, so Sequence — always
// non-negative, monotone from zero per §3 — is carried as uint64 on the
// wire and cast back at decode time.
type rlpEventRecord struct {
	Sequence    uint64
	Pubkey      []byte
	BlockNumber uint32
	TimeMs      uint64
	Event       string
	V           uint32
	Payload     []byte
}

// EncodeEventRecord encodes an EventRecord to RLP bytes.
func EncodeEventRecord(r *EventRecord) ([]byte, error) {
	if r.Sequence < 0 {
		return nil, fmt.Errorf("negative event sequence %d", r.Sequence)
	}
	return rlp.EncodeToBytes(&rlpEventRecord{
		Sequence:    uint64(r.Sequence),
		Pubkey:      r.Pubkey,
		BlockNumber: r.BlockNumber,
		TimeMs:      r.TimeMs,
		Event:       r.Event,
		V:           r.V,
		Payload:     r.Payload,
	})
}

// DecodeEventRecord decodes RLP bytes to an EventRecord.
func DecodeEventRecord(data []byte) (*EventRecord, error) {
	var r rlpEventRecord
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, err
	}
	return &EventRecord{
		Sequence:    int64(r.Sequence),
		Pubkey:      r.Pubkey,
		BlockNumber: r.BlockNumber,
		TimeMs:      r.TimeMs,
		Event:       r.Event,
		V:           r.V,
		Payload:     r.Payload,
	}, nil
}
