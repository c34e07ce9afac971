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

package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gvisor.dev/critsec/pkg/atomicbitops"
	"gvisor.dev/critsec/pkg/atomiccell"
	"gvisor.dev/critsec/pkg/critical"
	"gvisor.dev/critsec/pkg/hart"
	"gvisor.dev/critsec/pkg/log"
	"gvisor.dev/critsec/pkg/sync"
)

// StressConfig configures a Stress run.
type StressConfig struct {
	// Iterations is the number of sections each hart enters.
	Iterations int `toml:"iterations" json:"iterations" yaml:"iterations"`

	// Nesting is the depth of each section: 1 is a plain section, larger
	// values acquire again while already inside.
	Nesting int `toml:"nesting" json:"nesting" yaml:"nesting"`

	// HoldSpins is the number of spin hints issued while holding the
	// section.
	HoldSpins int `toml:"hold_spins" json:"hold_spins" yaml:"hold_spins"`

	// Interrupts makes every hart raise an interrupt on its neighbour after
	// each section. The handler enters a section too.
	Interrupts bool `toml:"interrupts" json:"interrupts" yaml:"interrupts"`
}

// Validate returns an error if c cannot be run.
func (c *StressConfig) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.Nesting < 1 {
		return fmt.Errorf("nesting must be positive, got %d", c.Nesting)
	}
	if c.HoldSpins < 0 {
		return fmt.Errorf("hold_spins must not be negative, got %d", c.HoldSpins)
	}
	return nil
}

// Report is the outcome of a Stress run.
type Report struct {
	// Backend is the compiled-in critical section backend.
	Backend string `json:"backend" yaml:"backend"`

	// Harts is the number of harts that took part.
	Harts int `json:"harts" yaml:"harts"`

	// Grants counts the sections entered from thread context, per hart.
	Grants []uint64 `json:"grants" yaml:"grants"`

	// Handlers counts the sections entered from interrupt handlers.
	Handlers uint64 `json:"handlers" yaml:"handlers"`

	// Overlaps counts entries that found another hart inside.
	Overlaps uint64 `json:"overlaps" yaml:"overlaps"`

	// Unmasked counts entries that found local interrupts enabled.
	Unmasked uint64 `json:"unmasked" yaml:"unmasked"`

	// LostUpdates is the number of increments of an unsynchronized
	// counter that were not observed by a later holder.
	LostUpdates uint64 `json:"lost_updates" yaml:"lost_updates"`

	// MaxBypass is the largest number of sections entered by others
	// between a hart asking for the section and getting it. When Ordered
	// is set it is counted by the lock from the moment the request was
	// queued; otherwise it is estimated from the grant counter.
	MaxBypass uint64 `json:"max_bypass" yaml:"max_bypass"`

	// Ordered is true if the backend queues requests, in which case
	// MaxBypass must not exceed Harts-1.
	Ordered bool `json:"ordered" yaml:"ordered"`

	// Elapsed is the wall time of the run.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Violations returns an error describing every broken guarantee in r, or
// nil.
func (r *Report) Violations() error {
	var errs []error
	if r.Overlaps != 0 {
		errs = append(errs, fmt.Errorf("%d entries overlapped another hart", r.Overlaps))
	}
	if r.Unmasked != 0 {
		errs = append(errs, fmt.Errorf("%d entries ran with interrupts enabled", r.Unmasked))
	}
	if r.LostUpdates != 0 {
		errs = append(errs, fmt.Errorf("%d updates were lost", r.LostUpdates))
	}
	if r.Ordered && r.Harts > 0 && r.MaxBypass > uint64(r.Harts-1) {
		errs = append(errs, fmt.Errorf("a hart was overtaken %d times, want at most %d", r.MaxBypass, r.Harts-1))
	}
	for id, n := range r.Grants {
		if n == 0 {
			errs = append(errs, fmt.Errorf("%v was never granted the section", hart.ID(id)))
		}
	}
	return errors.Join(errs...)
}

// stressState is shared by all harts of a run.
type stressState struct {
	m   *Machine
	cfg StressConfig

	// occupant is 1 + the hart inside the section, or 0.
	occupant atomicbitops.Int32

	// grants counts every entry, from threads and handlers alike.
	grants atomiccell.Int[uint64]

	// counter is only touched inside the section.
	counter uint64

	overlaps atomicbitops.Uint64
	unmasked atomicbitops.Uint64
	handlers atomicbitops.Uint64
	bypass   atomiccell.Cell[uint64]
	perHart  [hart.MaxHarts]uint64

	progress log.Logger
}

// enter runs the checks made on every entry into the outermost section.
func (s *stressState) enter(id hart.ID) {
	if s.occupant.Swap(int32(id)+1) != 0 {
		s.overlaps.Add(1)
	}
	if s.m.InterruptsEnabled(id) {
		s.unmasked.Add(1)
	}
	s.counter++
}

// leave runs just before leaving the outermost section.
func (s *stressState) leave(id hart.ID) {
	if !s.occupant.CompareAndSwap(int32(id)+1, 0) {
		s.overlaps.Add(1)
	}
}

// nest enters n-1 further sections inside the current one.
func (s *stressState) nest(n int) {
	if n <= 1 {
		for i := 0; i < s.cfg.HoldSpins; i++ {
			sync.Relax()
		}
		return
	}
	rs := critical.Acquire()
	s.nest(n - 1)
	critical.Release(rs)
}

// record notes that id was granted its outermost section. estimated is the
// number of grants to others since it asked, used when the backend keeps no
// count of its own.
func (s *stressState) record(id hart.ID, estimated uint64) {
	bypass := estimated
	if n, ok := critical.Overtaken(id); ok {
		bypass = uint64(n)
	}
	if bypass == 0 {
		return
	}
	s.bypass.Update(func(v uint64) uint64 {
		if bypass > v {
			return bypass
		}
		return v
	})
}

// handler is raised on a neighbouring hart when interrupts are enabled.
func (s *stressState) handler() {
	critical.With(func() {
		id := s.m.HartID()
		s.enter(id)
		s.record(id, 0)
		s.grants.Add(1)
		s.handlers.Add(1)
		s.leave(id)
	})
}

func (s *stressState) run(ctx context.Context, id hart.ID) error {
	for i := 0; i < s.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.progress.IsLogging(log.Debug) {
			s.progress.Debugf("stress: %v at iteration %d of %d", id, i, s.cfg.Iterations)
		}
		asked := s.grants.Load()

		rs := critical.Acquire()
		s.enter(id)
		got := s.grants.Add(1) - 1
		s.record(id, got-asked)
		s.perHart[id]++
		s.nest(s.cfg.Nesting)
		s.leave(id)
		critical.Release(rs)

		if s.cfg.Interrupts {
			next := hart.ID((int(id) + 1) % s.m.Harts())
			s.m.Raise(next, s.handler)
			s.m.Poll()
		}
	}
	return nil
}

// Stress installs m as the critical section platform and has every hart of
// m repeatedly enter sections as described by cfg.
//
// Pending interrupts are drained before returning, so every raised handler
// is accounted for in the report.
func Stress(ctx context.Context, m *Machine, cfg StressConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	critical.Install(m)

	s := &stressState{
		m:        m,
		cfg:      cfg,
		progress: log.BasicRateLimitedLogger(time.Second),
	}
	log.Debugf("stress: %d harts, %+v, backend %s", m.Harts(), cfg, critical.Backend)

	start := time.Now()
	err := m.Run(ctx, s.run)
	if err == nil {
		err = m.Run(ctx, func(context.Context, hart.ID) error {
			m.Poll()
			return nil
		})
	}
	if err != nil {
		return nil, fmt.Errorf("stress run failed: %w", err)
	}

	elapsed := time.Since(start)

	_, ordered := critical.Overtaken(0)
	r := &Report{
		Backend:  critical.Backend,
		Harts:    m.Harts(),
		Grants:   make([]uint64, m.Harts()),
		Handlers: s.handlers.Load(),
		Overlaps: s.overlaps.Load(),
		Unmasked: s.unmasked.Load(),
		Ordered:  ordered,
		Elapsed:  elapsed,
	}
	copy(r.Grants, s.perHart[:m.Harts()])

	// Cells may need a critical section, which only a hart can enter.
	var total uint64
	if err := m.OnHart(0, func() {
		total = s.grants.Load()
		r.MaxBypass = s.bypass.Load()
	}); err != nil {
		return nil, fmt.Errorf("reading stress counters: %w", err)
	}
	if total > s.counter {
		r.LostUpdates = total - s.counter
	}
	log.Infof("stress: %d grants, %d from handlers, max bypass %d in %v", total, r.Handlers, r.MaxBypass, r.Elapsed)
	return r, nil
}
