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

// Package hart identifies hardware threads.
//
// Per-hart state throughout critsec lives in arrays of MaxHarts slots indexed
// by ID, so that nothing on the acquire/release path allocates.
package hart

import "fmt"

// ID is the index of a hardware thread, in [0, MaxHarts).
type ID uint32

// Ok returns true if id indexes a per-hart slot.
//
//go:nosplit
func (id ID) Ok() bool {
	return id < MaxHarts
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("hart%d", uint32(id))
}
