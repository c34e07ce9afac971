// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package atomicbitops

import (
	"sync/atomic"

	"gvisor.dev/critsec/pkg/sync"
)

// Flag is a boolean that supports only atomic loads and stores.
//
// A Flag is meant to be written by a single owner and read by everyone
// else. Sequential consistency of the accesses is inherited from
// sync/atomic.
type Flag struct {
	_     sync.NoCopy
	value uint32
}

// Load returns the current value of the flag.
//
//go:nosplit
func (f *Flag) Load() bool {
	return atomic.LoadUint32(&f.value) != 0
}

// Store sets the flag to val.
//
//go:nosplit
func (f *Flag) Store(val bool) {
	atomic.StoreUint32(&f.value, b32(val))
}

// Ticket is an unsigned word that supports only atomic loads and stores.
//
// Like Flag, a Ticket has a single writer and any number of readers.
type Ticket struct {
	_     sync.NoCopy
	value uint32
}

// Load returns the current ticket value.
//
//go:nosplit
func (t *Ticket) Load() uint32 {
	return atomic.LoadUint32(&t.value)
}

// Store sets the ticket value.
//
//go:nosplit
func (t *Ticket) Store(v uint32) {
	atomic.StoreUint32(&t.value, v)
}
