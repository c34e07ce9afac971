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

//go:build noatomicrmw && !critsec_polyfill && !critsec_singlehart
// +build noatomicrmw,!critsec_polyfill,!critsec_singlehart

package critical

// The target has no atomic read-modify-write instructions, so the default
// spin lock cannot be built. Add the critsec_polyfill tag for multi-hart
// targets, or critsec_singlehart for uniprocessors.
var _ = critsec_polyfill_is_required_on_targets_without_atomic_rmw
