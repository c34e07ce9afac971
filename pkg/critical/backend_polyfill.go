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

//go:build critsec_polyfill && !critsec_singlehart
// +build critsec_polyfill,!critsec_singlehart

package critical

import (
	"gvisor.dev/critsec/pkg/bakery"
	"gvisor.dev/critsec/pkg/hart"
)

// Backend names the compiled-in global lock.
const Backend = "polyfill"

var global bakery.Lock

//go:nosplit
func lockGlobal(id hart.ID) {
	global.Lock(id)
}

//go:nosplit
func unlockGlobal(id hart.ID) {
	global.Unlock(id)
}

func overtaken(id hart.ID) (uint32, bool) {
	return global.Overtaken(id), true
}
