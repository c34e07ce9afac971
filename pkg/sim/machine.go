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

// Package sim simulates a multi-hart machine on a hosted Go runtime.
//
// Each simulated hart is a goroutine locked to its own OS thread; the thread
// ID identifies the hart, the way a hart ID register does on hardware. Every
// hart has an interrupt-enable bit and a queue of pending interrupt
// handlers, which are only delivered while the bit is set.
//
// A Machine implements interrupt.Platform and can be installed as the
// critical section platform.
package sim

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"gvisor.dev/critsec/pkg/atomicbitops"
	"gvisor.dev/critsec/pkg/hart"
	"gvisor.dev/critsec/pkg/interrupt"
	"gvisor.dev/critsec/pkg/sync"
)

// StateEnabled is the bit of interrupt.State recording that interrupts were
// enabled.
const StateEnabled interrupt.State = 1

// Machine is a simulated machine with a fixed number of harts.
type Machine struct {
	harts int

	// tids holds the OS thread bound to each hart, or 0.
	tids [hart.MaxHarts]atomicbitops.Int32

	// enabled is the interrupt-enable bit of each hart.
	enabled [hart.MaxHarts]atomicbitops.Bool

	pending [hart.MaxHarts]queue

	delivered atomicbitops.Uint64
}

// queue holds interrupt handlers raised but not yet delivered.
type queue struct {
	mu       sync.Mutex
	handlers []func()
}

func (q *queue) push(h func()) {
	q.mu.Lock()
	q.handlers = append(q.handlers, h)
	q.mu.Unlock()
}

func (q *queue) pop() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.handlers) == 0 {
		return nil
	}
	h := q.handlers[0]
	q.handlers = q.handlers[1:]
	return h
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.handlers)
}

// New returns a machine with the given number of harts, all with interrupts
// enabled.
func New(harts int) (*Machine, error) {
	if harts < 1 || harts > hart.MaxHarts {
		return nil, fmt.Errorf("hart count %d out of range [1, %d]", harts, hart.MaxHarts)
	}
	m := &Machine{harts: harts}
	for i := 0; i < harts; i++ {
		m.enabled[i].Store(true)
	}
	return m, nil
}

// Harts returns the number of harts in m.
func (m *Machine) Harts() int {
	return m.harts
}

// HartID implements interrupt.Platform.HartID.
//
// It panics when called from a goroutine that is not running as a hart.
func (m *Machine) HartID() hart.ID {
	tid := int32(unix.Gettid())
	for i := 0; i < m.harts; i++ {
		if m.tids[i].Load() == tid {
			return hart.ID(i)
		}
	}
	panic(fmt.Sprintf("sim: thread %d is not running a hart", tid))
}

// Disable implements interrupt.Controller.Disable.
func (m *Machine) Disable() interrupt.State {
	id := m.HartID()
	if m.enabled[id].Swap(false) {
		return StateEnabled
	}
	return 0
}

// Restore implements interrupt.Controller.Restore.
//
// Re-enabling interrupts delivers any pending handlers before returning.
func (m *Machine) Restore(s interrupt.State) {
	id := m.HartID()
	on := s&StateEnabled != 0
	m.enabled[id].Store(on)
	if on {
		m.deliver(id)
	}
}

// InterruptsEnabled returns the interrupt-enable bit of id.
func (m *Machine) InterruptsEnabled(id hart.ID) bool {
	return m.enabled[id].Load()
}

// Raise queues handler for delivery on id. It runs the next time id polls or
// re-enables interrupts while they are enabled.
func (m *Machine) Raise(id hart.ID, handler func()) {
	m.pending[id].push(handler)
}

// Pending returns the number of handlers waiting for delivery on id.
func (m *Machine) Pending(id hart.ID) int {
	return m.pending[id].len()
}

// Delivered returns the number of handlers run so far.
func (m *Machine) Delivered() uint64 {
	return m.delivered.Load()
}

// Poll is an interrupt window for the calling hart: pending handlers run now
// if interrupts are enabled.
func (m *Machine) Poll() {
	m.deliver(m.HartID())
}

// deliver runs pending handlers on id for as long as its interrupts are
// enabled. Handlers run with interrupts masked, as on entry to a trap.
func (m *Machine) deliver(id hart.ID) {
	for m.enabled[id].Load() {
		h := m.pending[id].pop()
		if h == nil {
			return
		}
		m.enabled[id].Store(false)
		h()
		m.enabled[id].Store(true)
		m.delivered.Add(1)
	}
}

// bind makes the calling goroutine run as id.
func (m *Machine) bind(id hart.ID) error {
	if int(id) >= m.harts {
		return fmt.Errorf("%v does not exist on a %d hart machine", id, m.harts)
	}
	runtime.LockOSThread()
	if !m.tids[id].CompareAndSwap(0, int32(unix.Gettid())) {
		runtime.UnlockOSThread()
		return fmt.Errorf("%v is already running", id)
	}
	return nil
}

// unbind undoes bind.
func (m *Machine) unbind(id hart.ID) {
	m.tids[id].Store(0)
	runtime.UnlockOSThread()
}

// OnHart runs fn as hart id and waits for it to return.
func (m *Machine) OnHart(id hart.ID, fn func()) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		defer func() { errCh <- err }()
		if err = m.bind(id); err != nil {
			return
		}
		defer m.unbind(id)
		fn()
	}()
	return <-errCh
}

// Run runs fn on every hart in parallel and waits for all of them. The
// context passed to fn is cancelled as soon as any hart returns an error,
// and the first error is returned.
func (m *Machine) Run(ctx context.Context, fn func(ctx context.Context, id hart.ID) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.harts; i++ {
		id := hart.ID(i)
		g.Go(func() error {
			if err := m.bind(id); err != nil {
				return err
			}
			defer m.unbind(id)
			if err := fn(ctx, id); err != nil {
				return fmt.Errorf("%v: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
