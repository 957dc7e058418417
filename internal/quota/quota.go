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

// Package quota computes per-contract cache byte budgets in proportion to
// contract weight, partitioning a fixed total memory pool.
package quota

import "github.com/ethereum/go-ethereum/common"

// TotalMemory is the fixed cache budget partitioned across all contracts.
const TotalMemory uint64 = 20 * 1024 * 1024

// Weighted is one entry of the ordered input to Allocate: a contract key and
// its assigned weight.
type Weighted struct {
	Key    common.Hash
	Weight uint32
}

// Allocation is one entry of Allocate's output: a contract key and its
// computed byte quota.
type Allocation struct {
	Key   common.Hash
	Quota uint64
}

// Allocate partitions TotalMemory across contracts in proportion to weight.
//
// quota_i = (TotalMemory * weight_i) / W, where W = max(1, sum(weight_i)),
// computed in 64-bit unsigned arithmetic so the TotalMemory*weight product
// never overflows even when every weight is math.MaxUint32. Order of the
// output matches the order of the input; residue from integer division is
// discarded, never redistributed.
func Allocate(contracts []Weighted) []Allocation {
	out := make([]Allocation, len(contracts))
	if len(contracts) == 0 {
		return out
	}

	var total uint64
	for _, c := range contracts {
		total += uint64(c.Weight)
	}
	if total == 0 {
		total = 1
	}

	for i, c := range contracts {
		out[i] = Allocation{
			Key:   c.Key,
			Quota: (TotalMemory * uint64(c.Weight)) / total,
		}
	}
	return out
}
