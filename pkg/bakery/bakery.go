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

// Package bakery implements Lamport's bakery lock over a fixed set of harts.
//
// The lock is built from atomic loads and stores only, for targets that have
// several harts but no atomic read-modify-write instruction. Every slot is
// written by the hart that owns it and read by all others.
//
// A hart i takes the lock in two phases. In the doorway it raises
// choosing[i], picks a ticket one larger than every ticket it can see, and
// lowers choosing[i]. It then visits every other hart j in ascending ID
// order, first waiting for j to leave its own doorway and then waiting while
// j holds a ticket that orders before its own. Tickets order by value, ties
// by lower hart ID. Releasing the lock clears the ticket.
//
// Once a hart has left the doorway, any hart entering the doorway later sees
// its ticket and draws a larger one, so each other hart can overtake it at
// most once: the lock is first-come first-served and starvation free.
//
// All accesses go through sync/atomic, which the Go memory model makes
// sequentially consistent. The correctness argument depends on it.
package bakery

import (
	"math"

	"gvisor.dev/critsec/pkg/atomicbitops"
	"gvisor.dev/critsec/pkg/hart"
	"gvisor.dev/critsec/pkg/sync"
)

// Lock is a bakery lock for up to hart.MaxHarts harts. The zero value is
// unlocked.
//
// Lock is not reentrant.
type Lock struct {
	_ sync.NoCopy

	choosing [hart.MaxHarts]atomicbitops.Flag
	ticket   [hart.MaxHarts]atomicbitops.Ticket

	// served counts grants. Only the holder writes it.
	served atomicbitops.Ticket

	// overtaken[i] is the number of grants made to other harts between
	// i's last doorway and its entry.
	overtaken [hart.MaxHarts]atomicbitops.Ticket
}

// Lock acquires l on behalf of hart id, spinning until it is granted.
//
// Preconditions: id.Ok(); id does not already hold l; no other caller is
// using id concurrently.
func (l *Lock) Lock(id hart.ID) {
	l.doorway(id)
	seen := l.served.Load()
	l.wait(id)
	n := l.served.Load()
	l.served.Store(n + 1)
	l.overtaken[id].Store(n - seen)
}

// Unlock releases l on behalf of hart id.
//
// Preconditions: id holds l.
func (l *Lock) Unlock(id hart.ID) {
	l.ticket[id].Store(0)
}

// Ticket returns the ticket currently held by id, or 0 if id neither holds
// nor waits for l.
func (l *Lock) Ticket(id hart.ID) uint32 {
	return l.ticket[id].Load()
}

// Overtaken returns how many times other harts were granted l between id
// leaving the doorway and entering, on id's most recent acquisition. It is
// at most hart.MaxHarts-1.
func (l *Lock) Overtaken(id hart.ID) uint32 {
	return l.overtaken[id].Load()
}

// doorway draws a ticket for i.
func (l *Lock) doorway(i hart.ID) {
	for {
		l.choosing[i].Store(true)
		highest := l.maxTicket()
		if highest < math.MaxUint32 {
			l.ticket[i].Store(highest + 1)
			l.choosing[i].Store(false)
			return
		}
		// The ticket space is exhausted. Back out with no ticket and let
		// every outstanding holder drain before numbering restarts at 1.
		l.choosing[i].Store(false)
		l.drain(i)
	}
}

// maxTicket returns the largest ticket visible in any slot.
func (l *Lock) maxTicket() uint32 {
	var highest uint32
	for j := range l.ticket {
		if t := l.ticket[j].Load(); t > highest {
			highest = t
		}
	}
	return highest
}

// drain spins until no hart other than i holds a ticket.
func (l *Lock) drain(i hart.ID) {
	for j := hart.ID(0); j < hart.MaxHarts; j++ {
		if j == i {
			continue
		}
		for l.ticket[j].Load() != 0 {
			sync.Relax()
		}
	}
}

// wait spins until i's ticket is the lowest among all contenders.
func (l *Lock) wait(i hart.ID) {
	mine := l.ticket[i].Load()
	for j := hart.ID(0); j < hart.MaxHarts; j++ {
		if j == i {
			continue
		}
		for l.choosing[j].Load() {
			sync.Relax()
		}
		for l.blockedBy(i, mine, j) {
			sync.Relax()
		}
	}
}

// blockedBy returns true if j holds a ticket ordered before i's ticket mine.
//
//go:nosplit
func (l *Lock) blockedBy(i hart.ID, mine uint32, j hart.ID) bool {
	t := l.ticket[j].Load()
	return t != 0 && (t < mine || (t == mine && j < i))
}
