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

// Package interrupt declares the architecture interface consumed by the
// critical section facade.
//
// The instructions that mask interrupts and read the current hart are
// architecture specific and live outside this module. They must be
// uninterruptible: Disable both captures the previous state and masks in one
// step, with no window in which an interrupt can observe a half-updated
// state.
package interrupt

import "gvisor.dev/critsec/pkg/hart"

// State is the raw interrupt state captured by Disable.
//
// Its contents are architecture defined (for example the saved DAIF bits on
// arm64 or the MIE bit of mstatus on RISC-V) and opaque to portable code.
type State uintptr

// Controller masks and restores local interrupts on the calling hart.
type Controller interface {
	// Disable masks interrupts on the calling hart and returns the state
	// that was in effect before.
	Disable() State

	// Restore reinstates a state previously returned by Disable on the
	// same hart.
	Restore(State)
}

// Platform is the full set of architecture capabilities the facade needs.
type Platform interface {
	Controller

	// HartID returns the ID of the calling hart. It is only called with
	// interrupts masked, so the answer cannot change under the caller.
	HartID() hart.ID
}
