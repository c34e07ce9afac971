// Copyright 2022 The gVisor Authors.
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

package log

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger drops messages beyond its limiter's rate and counts them.
// The count is appended to the next message that gets through.
type rateLimitedLogger struct {
	logger     Logger
	limit      *rate.Limiter
	suppressed atomic.Uint64
}

func (rl *rateLimitedLogger) logf(emit func(string, ...any), format string, v []any) {
	if !rl.limit.Allow() {
		rl.suppressed.Add(1)
		return
	}
	if n := rl.suppressed.Swap(0); n > 0 {
		format += " (%d similar messages suppressed)"
		v = append(v[:len(v):len(v)], n)
	}
	emit(format, v...)
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	rl.logf(rl.logger.Debugf, format, v)
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	rl.logf(rl.logger.Infof, format, v)
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	rl.logf(rl.logger.Warningf, format, v)
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration. Dropped messages are counted and
// the count is reported with the next message logged.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return newRateLimitedLogger(Log(), rate.NewLimiter(rate.Every(every), 1))
}

func newRateLimitedLogger(logger Logger, limit *rate.Limiter) *rateLimitedLogger {
	return &rateLimitedLogger{logger: logger, limit: limit}
}
