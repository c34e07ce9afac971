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

//go:build critsec_debug
// +build critsec_debug

package critical_test

import (
	"errors"
	"testing"

	"gvisor.dev/critsec/pkg/critical"
)

// expectContractError runs fn and returns the *ContractError it panics with.
func expectContractError(t *testing.T, fn func()) (ce *critical.ContractError) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.As(err, &ce) {
			t.Errorf("recovered %v, want a *critical.ContractError", r)
		}
	}()
	fn()
	return nil
}

func TestDebugOutOfOrderRelease(t *testing.T) {
	m := install(t, 1)
	onHart(t, m, 0, func() {
		outer := critical.Acquire()
		inner := critical.Acquire()

		ce := expectContractError(t, func() { critical.Release(outer) })
		if ce != nil && (ce.Depth != 1 || ce.Current != 2) {
			t.Errorf("ContractError = %+v, want depth 1 at current depth 2", ce)
		}
		if !m.InterruptsEnabled(0) {
			t.Errorf("interrupts still masked after the contract violation")
		}

		// Unwind what is left so later tests start clean.
		critical.Release(inner)
		critical.Release(outer)
	})
}

func TestDebugDoubleRelease(t *testing.T) {
	m := install(t, 1)
	onHart(t, m, 0, func() {
		rs := critical.Acquire()
		critical.Release(rs)
		expectContractError(t, func() { critical.Release(rs) })
		if !m.InterruptsEnabled(0) {
			t.Errorf("interrupts masked after a double release")
		}
	})
}

func TestDebugZeroToken(t *testing.T) {
	m := install(t, 1)
	onHart(t, m, 0, func() {
		expectContractError(t, func() { critical.Release(critical.RestoreState{}) })
		if !m.InterruptsEnabled(0) {
			t.Errorf("interrupts masked after releasing a zero token")
		}
	})
}

func TestDebugSingleHartOtherHart(t *testing.T) {
	if critical.Backend != "singlehart" {
		t.Skip("only the single-hart backend restricts the hart")
	}
	m := install(t, 2)
	onHart(t, m, 1, func() {
		expectContractError(t, func() { critical.Acquire() })
		if !m.InterruptsEnabled(1) {
			t.Errorf("interrupts masked after the rejected acquire")
		}
		if d := critical.Depth(1); d != 0 {
			t.Errorf("Depth(hart1) = %d, want 0", d)
		}
	})
}

func TestDebugZeroTokenInsideSection(t *testing.T) {
	m := install(t, 1)
	onHart(t, m, 0, func() {
		outer := critical.Acquire()
		inner := critical.Acquire()
		if m.InterruptsEnabled(0) {
			t.Fatalf("interrupts enabled inside a section")
		}

		expectContractError(t, func() { critical.Release(critical.RestoreState{}) })
		if !m.InterruptsEnabled(0) {
			t.Errorf("interrupts still masked after releasing a zero token")
		}
		if d := critical.Depth(0); d != 2 {
			t.Errorf("Depth(hart0) = %d, want 2", d)
		}

		critical.Release(inner)
		critical.Release(outer)
		if d := critical.Depth(0); d != 0 {
			t.Errorf("Depth(hart0) after unwinding = %d, want 0", d)
		}
	})
}
