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
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Lubov66/phala-blockchain/internal/mq"
)

// Change is one key mutation applied to ChainStorage by a block.
type Change struct {
	Key   []byte
	Value []byte // nil means deleted
}

// ChainStorage is the opaque chain-state snapshot collaborator ReplayEngine
// drives. The core never interprets key/value contents; it only needs root
// computation, change application, and the accessors below (§3, §4.6).
type ChainStorage interface {
	CalcRootIfChanges(mainChanges, childChanges []Change) (common.Hash, []Change)
	ApplyChanges(root common.Hash, changes []Change)
	MQMessages() []mq.Message
	TimestampNow() uint64
	TokenomicParameters() []byte
	Root() common.Hash
}

// MemStorage is a reference, in-memory ChainStorage: a fastcache-backed
// key/value map with a deterministic root computed over sorted keys.
// ChainStorage's wire format is explicitly out of scope (§1 Non-goals);
// this exists so dispatch_block is exercisable without a real chain
// database.
type MemStorage struct {
	mu       sync.RWMutex
	cache    *fastcache.Cache
	keys     map[string]struct{}
	root     common.Hash
	messages []mq.Message
	nowMs    uint64
	tokenomic []byte
}

// NewMemStorage returns an empty MemStorage with maxBytes of cache
// capacity for its working set.
func NewMemStorage(maxBytes int) *MemStorage {
	return &MemStorage{
		cache: fastcache.New(maxBytes),
		keys:  make(map[string]struct{}),
	}
}

// SetGenesis seeds the storage with an initial key set and an explicit
// root, for callers that already know the root they want, such as tests.
// Existing keys are kept; use Restore to replace the contents.
func (m *MemStorage) SetGenesis(pairs []Change, root common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pairs {
		m.cache.Set(p.Key, p.Value)
		m.keys[string(p.Key)] = struct{}{}
	}
	m.root = root
}

// LoadGenesis seeds the storage with pairs fetched from a chain snapshot
// and computes the root from their contents, since a genesis fetch has no
// separately-authoritative root to trust — the first real root check
// happens at the first block replayed after genesis.
func (m *MemStorage) LoadGenesis(pairs []Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv := make(map[string][]byte, len(pairs))
	for _, p := range pairs {
		m.cache.Set(p.Key, p.Value)
		m.keys[string(p.Key)] = struct{}{}
		kv[string(p.Key)] = p.Value
	}
	m.root = computeRoot(kv)
}

// SetInboundMessages installs the messages CalcRootIfChanges' caller will
// see via MQMessages for the current block, and the block timestamp.
func (m *MemStorage) SetInboundMessages(msgs []mq.Message, nowMs uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = msgs
	m.nowMs = nowMs
}

// SetTokenomicParameters installs the opaque tokenomic parameter blob read
// at gatekeeper-launch time.
func (m *MemStorage) SetTokenomicParameters(raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenomic = raw
}

// CalcRootIfChanges computes the root that would result from applying
// mainChanges (childChanges are folded in unmodified, keyed the same way,
// since this reference storage has no separate child-trie concept) without
// mutating storage, returning the pending change set for ApplyChanges.
func (m *MemStorage) CalcRootIfChanges(mainChanges, childChanges []Change) (common.Hash, []Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := make([]Change, 0, len(mainChanges)+len(childChanges))
	pending = append(pending, mainChanges...)
	pending = append(pending, childChanges...)

	keys := make(map[string][]byte, len(m.keys))
	for k := range m.keys {
		if v, ok := m.cache.HasGet(nil, []byte(k)); ok {
			keys[k] = v
		}
	}
	for _, c := range pending {
		if c.Value == nil {
			delete(keys, string(c.Key))
		} else {
			keys[string(c.Key)] = c.Value
		}
	}
	return computeRoot(keys), pending
}

// ApplyChanges commits pending changes and advances the stored root.
func (m *MemStorage) ApplyChanges(root common.Hash, changes []Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range changes {
		if c.Value == nil {
			m.cache.Del(c.Key)
			delete(m.keys, string(c.Key))
		} else {
			m.cache.Set(c.Key, c.Value)
			m.keys[string(c.Key)] = struct{}{}
		}
	}
	m.root = root
}

// MQMessages returns the inbound messages queued for the current block, in
// deterministic (insertion) order.
func (m *MemStorage) MQMessages() []mq.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mq.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// TimestampNow returns the current block's timestamp in milliseconds.
func (m *MemStorage) TimestampNow() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nowMs
}

// TokenomicParameters returns the opaque tokenomic parameter blob.
func (m *MemStorage) TokenomicParameters() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenomic
}

// Root returns the current committed state root.
func (m *MemStorage) Root() common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// Snapshot returns every key/value pair currently held and the committed
// root, for checkpoint serialization.
func (m *MemStorage) Snapshot() ([]Change, common.Hash) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Change, 0, len(m.keys))
	for k := range m.keys {
		v, _ := m.cache.HasGet(nil, []byte(k))
		out = append(out, Change{Key: []byte(k), Value: v})
	}
	return out, m.root
}

// Restore replaces the current contents with pairs and root, discarding
// whatever was previously held. Used when loading a checkpoint.
func (m *MemStorage) Restore(pairs []Change, root common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Reset()
	m.keys = make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		m.cache.Set(p.Key, p.Value)
		m.keys[string(p.Key)] = struct{}{}
	}
	m.root = root
}

// Snapshotter is the checkpoint-serialization capability a ChainStorage
// implementation may optionally provide. It is deliberately separate from
// the operational ChainStorage interface: a real confidential-enclave
// storage backend has its own wire format (out of scope here), but the
// reference MemStorage needs to round-trip through Engine.Dump/Load.
type Snapshotter interface {
	Snapshot() ([]Change, common.Hash)
	Restore(pairs []Change, root common.Hash)
}

// computeRoot folds sorted key/value pairs into a single commitment. This
// is a reduce-over-sorted-keys digest, not a real Merkle-Patricia trie —
// no ecosystem library in the pack provides exactly this shape without
// pulling in a full state-trie dependency this domain doesn't otherwise
// need (see DESIGN.md).
func computeRoot(kv map[string][]byte) common.Hash {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(kv[k])
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}
