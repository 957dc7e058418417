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
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrEventNotFound is returned when no event exists at the requested
// sequence.
var ErrEventNotFound = errors.New("event not found")

var (
	eventPrefix    = []byte("ev:")
	nextSeqKey     = []byte("meta:nextSeq")
	lowestSeqKey   = []byte("meta:lowestSeq")
)

func eventKey(seq uint64) []byte {
	k := make([]byte, len(eventPrefix)+8)
	copy(k, eventPrefix)
	binary.BigEndian.PutUint64(k[len(eventPrefix):], seq)
	return k
}

// Store is the LevelDB-backed EventRecord sink, adapted from the
// teacher's outbox store: atomic sequence assignment, retention-window
// compaction, and a not-found sentinel distinguishing "never written"
// from a real I/O failure.
type Store struct {
	db        *leveldb.DB
	mu        sync.Mutex
	nextSeq   uint64
	lowestSeq uint64

	retentionWindow uint64 // 0 = unlimited
}

// Open opens or creates the event store at path.
func Open(path string, retentionWindow uint64) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open event store at %s: %w", path, err)
	}
	s := &Store{db: db, retentionWindow: retentionWindow}
	if v, err := db.Get(nextSeqKey, nil); err == nil {
		s.nextSeq = binary.BigEndian.Uint64(v)
	}
	if v, err := db.Get(lowestSeqKey, nil); err == nil {
		s.lowestSeq = binary.BigEndian.Uint64(v)
	}
	log.Info("opened event store", "path", path, "nextSeq", s.nextSeq, "lowestSeq", s.lowestSeq)
	return s, nil
}

// Append durably writes r, assigning it the next sequence number, and
// returns the assigned sequence.
func (s *Store) Append(r *EventRecord) (int64, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq
	r.Sequence = int64(seq)
	data, err := EncodeEventRecord(r)
	if err != nil {
		return 0, fmt.Errorf("encode event record: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(eventKey(seq), data)
	nextBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(nextBuf, seq+1)
	batch.Put(nextSeqKey, nextBuf)
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("append event record seq=%d: %w", seq, err)
	}
	eventAppendLatency.UpdateSince(start)
	s.nextSeq = seq + 1

	if s.retentionWindow > 0 && s.nextSeq%1000 == 0 {
		s.compactLocked()
	}
	return int64(seq), nil
}

func (s *Store) compactLocked() {
	if s.retentionWindow == 0 || s.nextSeq <= s.retentionWindow {
		return
	}
	oldestToKeep := s.nextSeq - s.retentionWindow
	if oldestToKeep <= s.lowestSeq {
		return
	}
	count, err := s.deleteRangeLocked(s.lowestSeq, oldestToKeep-1)
	if err != nil {
		log.Error("event store auto-compact failed", "err", err)
		return
	}
	s.lowestSeq = oldestToKeep
	lowBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lowBuf, s.lowestSeq)
	if err := s.db.Put(lowestSeqKey, lowBuf, nil); err != nil {
		log.Error("event store failed to persist lowestSeq", "err", err)
		return
	}
	eventCompactedTotal.Inc(int64(count))
}

func (s *Store) deleteRangeLocked(from, to uint64) (int, error) {
	if from > to {
		return 0, nil
	}
	batch := new(leveldb.Batch)
	r := &util.Range{Start: eventKey(from), Limit: eventKey(to + 1)}
	iter := s.db.NewIterator(r, nil)
	defer iter.Release()
	count := 0
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
		count++
	}
	if err := iter.Error(); err != nil {
		return count, err
	}
	if count == 0 {
		return 0, nil
	}
	return count, s.db.Write(batch, nil)
}

// CompactBelow deletes events with sequence numbers below safeSeq.
func (s *Store) CompactBelow(safeSeq uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if safeSeq == 0 || safeSeq <= s.lowestSeq {
		return 0, nil
	}
	latest := s.latestSeqLocked()
	if safeSeq > latest+1 {
		return 0, fmt.Errorf("safeSeq %d exceeds latest+1 boundary (latest=%d)", safeSeq, latest)
	}
	count, err := s.deleteRangeLocked(s.lowestSeq, safeSeq-1)
	if err != nil {
		return count, err
	}
	if count > 0 {
		s.lowestSeq = safeSeq
		lowBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(lowBuf, s.lowestSeq)
		if err := s.db.Put(lowestSeqKey, lowBuf, nil); err != nil {
			return count, err
		}
		eventCompactedTotal.Inc(int64(count))
	}
	return count, nil
}

// Read retrieves an event by sequence number.
func (s *Store) Read(seq uint64) (*EventRecord, error) {
	data, err := s.db.Get(eventKey(seq), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("read event seq=%d: %w", seq, err)
	}
	return DecodeEventRecord(data)
}

// ReadRange retrieves events in [from, to] inclusive.
func (s *Store) ReadRange(from, to uint64) ([]*EventRecord, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range: from (%d) > to (%d)", from, to)
	}
	r := &util.Range{Start: eventKey(from), Limit: eventKey(to + 1)}
	iter := s.db.NewIterator(r, nil)
	defer iter.Release()

	var out []*EventRecord
	for iter.Next() {
		rec, err := DecodeEventRecord(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode event in range [%d,%d]: %w", from, to, err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// LatestSeq returns the latest written sequence number, or 0 if empty.
func (s *Store) LatestSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestSeqLocked()
}

func (s *Store) latestSeqLocked() uint64 {
	if s.nextSeq == 0 {
		return 0
	}
	return s.nextSeq - 1
}

// LowestSeq returns the lowest retained sequence number.
func (s *Store) LowestSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowestSeq
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
