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

//go:build !critsec_debug
// +build !critsec_debug

package critical_test

import (
	"testing"

	"gvisor.dev/critsec/pkg/critical"
)

func TestZeroTokenIgnored(t *testing.T) {
	m := install(t, 1)
	onHart(t, m, 0, func() {
		critical.Release(critical.RestoreState{})
		if !m.InterruptsEnabled(0) {
			t.Errorf("releasing a zero token disabled interrupts")
		}
		if got := critical.Depth(0); got != 0 {
			t.Errorf("Depth(0) = %d, want 0", got)
		}
	})
}

func TestDoubleReleaseRestores(t *testing.T) {
	m := install(t, 1)
	onHart(t, m, 0, func() {
		rs := critical.Acquire()
		critical.Release(rs)
		critical.Release(rs)
		if !m.InterruptsEnabled(0) {
			t.Errorf("interrupts disabled after a double release")
		}
		if got := critical.Depth(0); got != 0 {
			t.Errorf("Depth(0) = %d after a double release, want 0", got)
		}

		// The lock must still be usable.
		critical.With(func() {})
	})
}
