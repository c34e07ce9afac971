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

//go:build critsec_polyfill
// +build critsec_polyfill

package sim

import (
	"context"
	"testing"
	"time"

	"gvisor.dev/critsec/pkg/critical"
	"gvisor.dev/critsec/pkg/hart"
)

// TestStressPolyfill runs the harness on the load/store-only lock, where
// every cell operation enters a critical section and the lock queues
// requests.
func TestStressPolyfill(t *testing.T) {
	if critical.Backend != "polyfill" {
		t.Fatalf("Backend = %q, want polyfill", critical.Backend)
	}
	t.Cleanup(func() { critical.Install(nil) })
	for _, harts := range []int{2, hart.MaxHarts} {
		m := newMachine(t, harts)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		r, err := Stress(ctx, m, StressConfig{Iterations: 200, Nesting: 2, Interrupts: true})
		cancel()
		if err != nil {
			t.Fatalf("%d harts: Stress failed: %v", harts, err)
		}
		if err := r.Violations(); err != nil {
			t.Errorf("%d harts: %v", harts, err)
		}
		if !r.Ordered {
			t.Errorf("%d harts: Ordered = false on the bakery lock", harts)
		}
		if r.MaxBypass > uint64(harts-1) {
			t.Errorf("%d harts: MaxBypass = %d, want at most %d", harts, r.MaxBypass, harts-1)
		}
		if want := uint64(2 * harts * 200); r.Handlers+sum(r.Grants) != want {
			t.Errorf("%d harts: %d thread and %d handler grants, want %d in total", harts, sum(r.Grants), r.Handlers, want)
		}
	}
}

func sum(v []uint64) uint64 {
	var n uint64
	for _, x := range v {
		n += x
	}
	return n
}
