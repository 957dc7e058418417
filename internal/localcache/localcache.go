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

// Package localcache is the external local-cache collaborator: the sidevm
// memory manager that contract cache quotas are pushed into. The core
// treats it as opaque; this package gives it a concrete, in-memory shape so
// the registry is exercisable end to end without a real sidevm runtime.
package localcache

import "sync"

// QuotaPair is one (contract key, byte budget) assignment.
type QuotaPair struct {
	Key   []byte
	Bytes uint64
}

// Cache receives quota assignments computed by the registry.
type Cache interface {
	ApplyQuotas(pairs []QuotaPair) error
}

// MemCache is an in-memory Cache suitable for tests and for a worker
// running without a sidevm backend attached.
type MemCache struct {
	mu     sync.RWMutex
	quotas map[string]uint64
}

// NewMemCache returns an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{quotas: make(map[string]uint64)}
}

// ApplyQuotas replaces the full quota set with pairs.
func (m *MemCache) ApplyQuotas(pairs []QuotaPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[string]uint64, len(pairs))
	for _, p := range pairs {
		next[string(p.Key)] = p.Bytes
	}
	m.quotas = next
	return nil
}

// Quota returns the current byte budget for key.
func (m *MemCache) Quota(key []byte) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.quotas[string(key)]
	return b, ok
}

// Len returns the number of keys with an assigned quota.
func (m *MemCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.quotas)
}
