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

// Package spinlock provides a busy-waiting lock for targets with native
// atomic read-modify-write instructions.
package spinlock

import (
	"gvisor.dev/critsec/pkg/atomicbitops"
	"gvisor.dev/critsec/pkg/sync"
)

const (
	unlocked = 0
	locked   = 1
)

// Lock is a test-and-test-and-set spin lock. The zero value is unlocked.
//
// Lock never sleeps and is not reentrant: callers that may nest must track
// depth themselves.
type Lock struct {
	state atomicbitops.Uint32
}

// Lock acquires l, spinning until it is available.
//
// Failed attempts back off exponentially (bounded by
// sync.MaxBackoffSpins) and then wait on plain loads, so contending harts do
// not hammer the bus with writes.
func (l *Lock) Lock() {
	var b sync.Backoff
	for !l.state.CompareAndSwap(unlocked, locked) {
		b.Spin()
		for l.state.Load() != unlocked {
			sync.Relax()
		}
	}
}

// TryLock acquires l if it is available and returns true, otherwise it
// returns false immediately.
func (l *Lock) TryLock() bool {
	return l.state.Load() == unlocked && l.state.CompareAndSwap(unlocked, locked)
}

// Unlock releases l.
//
// Preconditions: l is held by the caller.
func (l *Lock) Unlock() {
	l.state.Store(unlocked)
}

// Locked returns true if l is currently held by anyone.
func (l *Lock) Locked() bool {
	return l.state.Load() == locked
}
