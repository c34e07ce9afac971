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

package atomiccell_test

import (
	"context"
	"testing"

	"gvisor.dev/critsec/pkg/atomiccell"
	"gvisor.dev/critsec/pkg/critical"
	"gvisor.dev/critsec/pkg/hart"
	"gvisor.dev/critsec/pkg/sim"
)

// onHart runs fn on hart 0 of a fresh machine, so that cells may enter
// critical sections on builds without native atomics.
func onHart(t *testing.T, fn func()) {
	t.Helper()
	m, err := sim.New(1)
	if err != nil {
		t.Fatalf("sim.New failed: %v", err)
	}
	critical.Install(m)
	defer critical.Install(nil)
	if err := m.OnHart(0, fn); err != nil {
		t.Fatalf("OnHart failed: %v", err)
	}
}

func TestCellMethods(t *testing.T) {
	onHart(t, func() {
		c := atomiccell.New[uint8](0)
		if got := c.Load(); got != 0 {
			t.Errorf("Load() = %d, want 0", got)
		}
		c.Store(1)
		if got := c.Load(); got != 1 {
			t.Errorf("Load() = %d, want 1", got)
		}
		if got := c.Swap(5); got != 1 {
			t.Errorf("Swap(5) = %d, want 1", got)
		}
		if got := c.Load(); got != 5 {
			t.Errorf("Load() = %d, want 5", got)
		}

		if got, ok := c.CompareExchange(5, 10); !ok || got != 5 {
			t.Errorf("CompareExchange(5, 10) = %d, %t; want 5, true", got, ok)
		}
		if got := c.Load(); got != 10 {
			t.Errorf("Load() = %d, want 10", got)
		}
		if got, ok := c.CompareExchange(9, 20); ok || got != 10 {
			t.Errorf("CompareExchange(9, 20) = %d, %t; want 10, false", got, ok)
		}
		if got, ok := c.CompareExchangeWeak(10, 20); !ok || got != 10 {
			t.Errorf("CompareExchangeWeak(10, 20) = %d, %t; want 10, true", got, ok)
		}
		if got := c.Load(); got != 20 {
			t.Errorf("Load() = %d, want 20", got)
		}
		if c.CompareAndSwap(5, 10) {
			t.Errorf("CompareAndSwap(5, 10) succeeded on 20")
		}
	})
}

func TestCellTypes(t *testing.T) {
	onHart(t, func() {
		b := atomiccell.New(false)
		if old := b.Swap(true); old {
			t.Errorf("bool Swap(true) = true, want false")
		}
		if !b.Load() {
			t.Errorf("bool Load() = false after Swap(true)")
		}

		i := atomiccell.New[int16](-3)
		if got := i.Load(); got != -3 {
			t.Errorf("int16 Load() = %d, want -3", got)
		}
		if !i.CompareAndSwap(-3, 7) {
			t.Errorf("int16 CompareAndSwap(-3, 7) failed")
		}

		type state uint32
		s := atomiccell.New(state(9))
		if got := s.Update(func(v state) state { return v * 2 }); got != 18 {
			t.Errorf("Update(double) = %d, want 18", got)
		}

		var u atomiccell.Cell[int64]
		u.Store(-1 << 40)
		if got := u.Load(); got != -1<<40 {
			t.Errorf("int64 Load() = %d, want %d", got, int64(-1<<40))
		}
	})
}

func TestIntAddConcurrent(t *testing.T) {
	if critical.Backend == "singlehart" && !atomiccell.Native {
		t.Skip("emulated cells on a single-hart build cannot be shared between harts")
	}
	const iters = 1000
	m, err := sim.New(hart.MaxHarts)
	if err != nil {
		t.Fatalf("sim.New failed: %v", err)
	}
	critical.Install(m)
	defer critical.Install(nil)

	var n atomiccell.Int[uint64]
	err = m.Run(context.Background(), func(context.Context, hart.ID) error {
		for i := 0; i < iters; i++ {
			n.Add(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var got uint64
	if err := m.OnHart(0, func() { got = n.Load() }); err != nil {
		t.Fatalf("OnHart failed: %v", err)
	}
	if want := uint64(hart.MaxHarts * iters); got != want {
		t.Errorf("Load() = %d, want %d", got, want)
	}
}

// runShared runs fn on every hart of a fresh machine, skipping builds where
// cells cannot be shared between harts.
func runShared(t *testing.T, fn func(id hart.ID)) *sim.Machine {
	t.Helper()
	if critical.Backend == "singlehart" && !atomiccell.Native {
		t.Skip("emulated cells on a single-hart build cannot be shared between harts")
	}
	m, err := sim.New(hart.MaxHarts)
	if err != nil {
		t.Fatalf("sim.New failed: %v", err)
	}
	critical.Install(m)
	t.Cleanup(func() { critical.Install(nil) })
	if err := m.Run(context.Background(), func(_ context.Context, id hart.ID) error {
		fn(id)
		return nil
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return m
}

func TestSwapConcurrent(t *testing.T) {
	const iters = 500
	var c atomiccell.Cell[uint32]
	var seen [hart.MaxHarts][]uint32
	m := runShared(t, func(id hart.ID) {
		for i := 0; i < iters; i++ {
			seen[id] = append(seen[id], c.Swap(uint32(int(id)*iters+i+1)))
		}
	})
	var last uint32
	if err := m.OnHart(0, func() { last = c.Load() }); err != nil {
		t.Fatalf("OnHart failed: %v", err)
	}

	// Every stored value is returned by exactly one later Swap, except the
	// last one, which is still in the cell. The initial zero is returned once.
	count := make(map[uint32]int)
	count[last]++
	for _, vs := range seen {
		for _, v := range vs {
			count[v]++
		}
	}
	if want := hart.MaxHarts*iters + 1; len(count) != want {
		t.Errorf("got %d distinct values, want %d", len(count), want)
	}
	for v, n := range count {
		if n != 1 {
			t.Errorf("value %d observed %d times, want 1", v, n)
		}
	}
}

func TestCompareExchangeConcurrent(t *testing.T) {
	const iters = 500
	var c atomiccell.Cell[uint64]
	var failed [hart.MaxHarts]int
	m := runShared(t, func(id hart.ID) {
		for i := 0; i < iters; i++ {
			cur := c.Load()
			for {
				got, ok := c.CompareExchange(cur, cur+1)
				if ok {
					break
				}
				if got == cur {
					failed[id]++
				}
				cur = got
			}
		}
	})
	var got uint64
	if err := m.OnHart(0, func() { got = c.Load() }); err != nil {
		t.Fatalf("OnHart failed: %v", err)
	}
	if want := uint64(hart.MaxHarts * iters); got != want {
		t.Errorf("Load() = %d, want %d", got, want)
	}
	for id, n := range failed {
		if n != 0 {
			t.Errorf("hart %d: CompareExchange failed %d times while returning the expected value", id, n)
		}
	}
}
