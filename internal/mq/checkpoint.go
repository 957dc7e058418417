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

package mq

import "sync"

// current is the dispatcher registered for the duration of a checkpoint
// load. A Dispatcher is excluded from checkpoint serialization and rebuilt
// empty on restore; anything decoded while a checkpoint is being loaded
// that needs to resolve "the receive queue this replay run is using"
// reaches for Current() instead of having one threaded through its own
// decode path.
var (
	currentMu sync.Mutex
	current   *Dispatcher
)

// WithDispatcher registers d as the current dispatcher for the duration of
// fn, then clears the registration — on every exit path, including a
// panic unwinding through fn.
func WithDispatcher(d *Dispatcher, fn func()) {
	currentMu.Lock()
	prev := current
	current = d
	currentMu.Unlock()

	defer func() {
		currentMu.Lock()
		current = prev
		currentMu.Unlock()
	}()

	fn()
}

// Current returns the dispatcher registered by the innermost enclosing
// WithDispatcher call, or nil outside of one.
func Current() *Dispatcher {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}
