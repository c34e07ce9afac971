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

//go:build !critsec_polyfill && !critsec_singlehart && !noatomicrmw
// +build !critsec_polyfill,!critsec_singlehart,!noatomicrmw

package critical

import (
	"gvisor.dev/critsec/pkg/hart"
	"gvisor.dev/critsec/pkg/spinlock"
)

// Backend names the compiled-in global lock.
const Backend = "native"

var global spinlock.Lock

//go:nosplit
func lockGlobal(hart.ID) {
	global.Lock()
}

//go:nosplit
func unlockGlobal(hart.ID) {
	global.Unlock()
}

func overtaken(hart.ID) (uint32, bool) {
	return 0, false
}
