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

package sync

import "runtime"

// Relax is the spin-wait hint issued on every iteration of a busy loop.
//
// On a hosted build several simulated harts may share one Go processor, so
// Relax yields it; otherwise a spinning hart could hold the processor until
// asynchronous preemption kicks in.
//
//go:nosplit
func Relax() {
	runtime.Gosched()
}

// Backoff limits.
const (
	// MinBackoffSpins is the number of Relax calls after the first failed
	// attempt.
	MinBackoffSpins = 1

	// MaxBackoffSpins bounds the number of Relax calls between attempts.
	MaxBackoffSpins = 64
)

// Backoff is a bounded exponential spinner. The zero value is ready to use.
//
// Each call to Spin relaxes the processor for the current number of
// iterations and then doubles it, up to MaxBackoffSpins.
type Backoff struct {
	spins uint32
}

// Spin busy-waits for the current backoff period and lengthens the next one.
func (b *Backoff) Spin() {
	if b.spins < MinBackoffSpins {
		b.spins = MinBackoffSpins
	}
	for i := uint32(0); i < b.spins; i++ {
		Relax()
	}
	if b.spins < MaxBackoffSpins {
		b.spins <<= 1
	}
}
