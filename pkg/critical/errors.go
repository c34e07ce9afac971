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

package critical

import (
	"fmt"

	"gvisor.dev/critsec/pkg/hart"
)

// ContractError describes a misuse of Release detected by debug builds.
type ContractError struct {
	// Hart is the hart recorded in the offending token.
	Hart hart.ID

	// Depth is the nesting depth the token opened.
	Depth uint32

	// Current is the hart's nesting depth when the token was released.
	Current uint32

	// Reason describes the violation.
	Reason string
}

// Error implements error.Error.
func (e *ContractError) Error() string {
	return fmt.Sprintf("critical section contract violated on %v (token depth %d, current depth %d): %s", e.Hart, e.Depth, e.Current, e.Reason)
}
