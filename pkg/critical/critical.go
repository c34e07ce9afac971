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

// Package critical provides critical sections: regions that run with local
// interrupts masked and with mutual exclusion against every other hart.
//
// Acquire masks interrupts on the calling hart before anything else, then
// takes the global lock when the hart is not already inside a section. Nested
// acquisitions on the same hart only bump a per-hart depth, so handlers and
// helpers may enter a section that their caller already holds. Release undoes
// one Acquire and must be given tokens in LIFO order.
//
// Exactly one global backend is compiled in, selected by build tags:
//
//	(default)           spin lock on native atomic read-modify-write.
//	critsec_polyfill    bakery lock built from loads and stores only.
//	critsec_singlehart  no global lock; masking interrupts is enough.
//
// Targets without atomic read-modify-write instructions are built with the
// noatomicrmw tag, and then refuse to compile unless critsec_polyfill or
// critsec_singlehart is also given. The critsec_debug tag enables checking of
// the release contract.
//
// The platform (interrupt masking and hart identity) must be installed with
// Install before the first Acquire.
package critical

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/critsec/pkg/atomicbitops"
	"gvisor.dev/critsec/pkg/hart"
	"gvisor.dev/critsec/pkg/interrupt"
)

// RestoreState is the token returned by Acquire and consumed by Release.
//
// It must be released exactly once, on the hart that acquired it, and must
// not outlive the section it was returned for.
type RestoreState struct {
	state interrupt.State
	hart  hart.ID
	depth uint32
	valid bool
}

// Hart returns the hart the token was acquired on.
func (rs RestoreState) Hart() hart.ID {
	return rs.hart
}

// Depth returns the nesting depth the token opened; 1 for an outermost
// section.
func (rs RestoreState) Depth() uint32 {
	return rs.depth
}

// installed wraps the platform so that different implementations may be
// stored in the same atomic.Pointer.
type installed struct {
	interrupt.Platform
}

var arch atomic.Pointer[installed]

// depth is the nesting depth of each hart. A slot is only written by its own
// hart while that hart has interrupts masked.
var depth [hart.MaxHarts]atomicbitops.Uint32

// outer is the interrupt state each hart had before its outermost section.
// It is only kept with critsec_debug, and a slot is only accessed by its own
// hart.
var outer [hart.MaxHarts]interrupt.State

// Install sets the platform used by every subsequent Acquire and Release.
//
// Install is meant to be called once during early boot, before any hart
// enters a section. Replacing the platform while any hart is inside a section
// is undefined.
func Install(p interrupt.Platform) {
	if p == nil {
		arch.Store(nil)
		return
	}
	arch.Store(&installed{p})
}

// Installed returns the installed platform, or nil.
func Installed() interrupt.Platform {
	if i := arch.Load(); i != nil {
		return i.Platform
	}
	return nil
}

func platform() interrupt.Platform {
	i := arch.Load()
	if i == nil {
		panic("critical: no platform installed")
	}
	return i.Platform
}

// Acquire enters a critical section on the calling hart.
//
// It spins, with interrupts masked, until the global lock is granted. The
// returned token must be passed to Release.
func Acquire() RestoreState {
	p := platform()
	state := p.Disable()
	id := p.HartID()
	if !id.Ok() {
		// Never panic with interrupts masked.
		p.Restore(state)
		panic(fmt.Sprintf("critical: platform returned %v, only %d harts are supported", id, hart.MaxHarts))
	}
	if debug && Backend == "singlehart" && id != 0 {
		p.Restore(state)
		contractViolated(&ContractError{Hart: id, Reason: "single-hart build entered from another hart"})
	}
	d := depth[id].Load()
	if d == 0 {
		if debug {
			outer[id] = state
		}
		lockGlobal(id)
	}
	d++
	depth[id].Store(d)
	return RestoreState{
		state: state,
		hart:  id,
		depth: d,
		valid: true,
	}
}

// Release leaves the critical section opened by the Acquire that returned rs.
//
// The global lock is released when the outermost section on the hart is
// left, after which the interrupt state captured in rs is restored.
//
// A token that was never returned by Acquire is ignored. Releasing when the
// hart is not inside a section restores the token's interrupt state and does
// nothing else. With the critsec_debug tag, such misuse and out-of-order
// releases also log a warning and panic with a *ContractError once
// interrupts have been restored; for a token not returned by Acquire that is
// the state the hart had before its outermost section.
func Release(rs RestoreState) {
	if !rs.valid {
		if debug {
			unmaskCaller()
			contractViolated(&ContractError{Hart: rs.hart, Reason: "release of a token not returned by Acquire"})
		}
		return
	}
	p := platform()
	d := depth[rs.hart].Load()
	if d == 0 {
		p.Restore(rs.state)
		if debug {
			contractViolated(&ContractError{Hart: rs.hart, Depth: rs.depth, Reason: "release without a matching acquire"})
		}
		return
	}
	if debug {
		if cur := p.HartID(); cur != rs.hart {
			p.Restore(rs.state)
			contractViolated(&ContractError{Hart: rs.hart, Depth: rs.depth, Current: d, Reason: fmt.Sprintf("released on %v", cur)})
			return
		}
		if rs.depth != d {
			p.Restore(rs.state)
			contractViolated(&ContractError{Hart: rs.hart, Depth: rs.depth, Current: d, Reason: "released out of order"})
			return
		}
	}
	d--
	depth[rs.hart].Store(d)
	if d == 0 {
		unlockGlobal(rs.hart)
	}
	p.Restore(rs.state)
}

// unmaskCaller restores the interrupt state the calling hart had before its
// outermost section, if it is inside one. The hart keeps its depth and the
// global lock.
func unmaskCaller() {
	p := Installed()
	if p == nil {
		return
	}
	if id := p.HartID(); id.Ok() && depth[id].Load() > 0 {
		p.Restore(outer[id])
	}
}

// With runs f inside a critical section.
//
// The section is left even if f panics, so a panicking body never leaves
// interrupts masked.
func With(f func()) {
	rs := Acquire()
	defer Release(rs)
	f()
}

// Do runs f inside a critical section and returns its result.
func Do[T any](f func() T) T {
	rs := Acquire()
	defer Release(rs)
	return f()
}

// Overtaken returns how many sections other harts were granted while id
// waited for its most recent outermost section, once it had queued. ok is
// false when the backend does not queue requests and keeps no such count.
func Overtaken(id hart.ID) (n uint32, ok bool) {
	return overtaken(id)
}

// Depth returns the current nesting depth of id; 0 when id is not inside a
// section.
func Depth(id hart.ID) uint32 {
	return depth[id].Load()
}
