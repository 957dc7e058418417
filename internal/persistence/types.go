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

// Package persistence is the outbound economic-event persistence sink:
// a LevelDB-backed, sequence-ordered store of EventRecords, adapted from
// the teacher's UBT outbox store onto this domain's event shape.
package persistence

// EventRecord is one economic event emitted while replaying a block,
// destined for the persistence sink (§3, §6).
type EventRecord struct {
	Sequence    int64
	Pubkey      []byte
	BlockNumber uint32
	TimeMs      uint64
	Event       string
	V           uint32
	Payload     []byte
}

// EventChannelCapacity is the bounded channel capacity ReplayEngine flushes
// EventRecords through, providing backpressure from this sink (§5, §6).
const EventChannelCapacity = 5120
