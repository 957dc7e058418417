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

// Package registry owns the live set of contracts a worker serves and
// applies their weight-proportional cache quotas.
package registry

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Lubov66/phala-blockchain/internal/localcache"
	"github.com/Lubov66/phala-blockchain/internal/quota"
)

// Spawner restarts a sidevm instance for a contract that needs one.
type Spawner interface {
	RestartSidevmIfNeeded(addr common.Hash, currentBlock uint32) error
}

// Contract is the subset of contract state the registry cares about: its
// address and its cache weight. Whether a sidevm restart is needed is
// decided by the Spawner, not stored here.
type Contract struct {
	Address common.Hash
	Weight  uint32
}

// Registry is an address-ordered collection of contracts. Iteration is
// always in ascending address order regardless of insertion order, so
// quota application and sidevm-restart sweeps are deterministic.
type Registry struct {
	contracts    map[common.Hash]*Contract
	weightChanged bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{contracts: make(map[common.Hash]*Contract)}
}

// Insert adds or overwrites the contract at its address.
func (r *Registry) Insert(c Contract) {
	existing, ok := r.contracts[c.Address]
	if !ok || existing.Weight != c.Weight {
		r.weightChanged = true
	}
	cc := c
	r.contracts[c.Address] = &cc
}

// Get returns the contract at addr, if any.
func (r *Registry) Get(addr common.Hash) (Contract, bool) {
	c, ok := r.contracts[addr]
	if !ok {
		return Contract{}, false
	}
	return *c, true
}

// Len returns the number of contracts currently registered.
func (r *Registry) Len() int { return len(r.contracts) }

// Keys returns all contract addresses in ascending order.
func (r *Registry) Keys() []common.Hash {
	keys := make([]common.Hash, 0, len(r.contracts))
	for k := range r.contracts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessHash(keys[i], keys[j]) })
	return keys
}

// Iter calls fn for every contract in ascending address order.
func (r *Registry) Iter(fn func(Contract)) {
	for _, k := range r.Keys() {
		fn(*r.contracts[k])
	}
}

// Drain removes and returns every contract in ascending address order.
func (r *Registry) Drain() []Contract {
	keys := r.Keys()
	out := make([]Contract, 0, len(keys))
	for _, k := range keys {
		out = append(out, *r.contracts[k])
		delete(r.contracts, k)
	}
	r.weightChanged = true
	return out
}

// TryRestartSidevms iterates contracts in address order, invoking the
// spawner's restart capability for each. A per-contract failure is logged
// and swallowed — it must never abort the sweep.
func (r *Registry) TryRestartSidevms(spawner Spawner, currentBlock uint32) {
	for _, k := range r.Keys() {
		if err := spawner.RestartSidevmIfNeeded(k, currentBlock); err != nil {
			log.Warn("sidevm restart failed, continuing sweep", "contract", k, "block", currentBlock, "err", err)
		}
	}
}

// ApplyLocalCacheQuotas recomputes quotas via the quota allocator and pushes
// them into the external local cache. Must be called after any weight or
// membership change. Every call recomputes and pushes the full quota set,
// so calling it with no pending change is safe and yields the same quotas.
func (r *Registry) ApplyLocalCacheQuotas(cache localcache.Cache) error {
	keys := r.Keys()
	weighted := make([]quota.Weighted, 0, len(keys))
	for _, k := range keys {
		weighted = append(weighted, quota.Weighted{Key: k, Weight: r.contracts[k].Weight})
	}
	allocations := quota.Allocate(weighted)
	pairs := make([]localcache.QuotaPair, 0, len(allocations))
	for _, a := range allocations {
		pairs = append(pairs, localcache.QuotaPair{Key: a.Key.Bytes(), Bytes: a.Quota})
	}
	if err := cache.ApplyQuotas(pairs); err != nil {
		return err
	}
	r.weightChanged = false
	return nil
}

// WeightChanged reports whether a weight or membership change is pending a
// quota recomputation.
func (r *Registry) WeightChanged() bool { return r.weightChanged }

func lessHash(a, b common.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
