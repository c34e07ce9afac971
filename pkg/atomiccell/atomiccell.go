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

// Package atomiccell provides atomic cells for any boolean or integer type.
//
// On targets with native read-modify-write instructions a cell is a single
// 64-bit atomic word. When the critical section polyfill is compiled in, or
// the target is built with noatomicrmw, every operation on a cell, plain
// loads and stores included, runs inside a critical section instead. Mixing
// the two would let a bare store land between the load and the store of an
// emulated compare-and-swap.
package atomiccell

import (
	"unsafe"

	"golang.org/x/exp/constraints"

	"gvisor.dev/critsec/pkg/atomicbitops"
	"gvisor.dev/critsec/pkg/critical"
	"gvisor.dev/critsec/pkg/sync"
)

// Value is the set of types a Cell can hold: anything that fits in, and
// compares bitwise within, a 64-bit word.
type Value interface {
	constraints.Integer | ~bool
}

// Cell is an atomic T. The zero value holds the zero T.
type Cell[T Value] struct {
	_ sync.NoCopy

	// word holds the bits of the value, zero-extended.
	word atomicbitops.Uint64
}

// New returns a cell holding v.
func New[T Value](v T) *Cell[T] {
	c := &Cell[T]{}
	c.word.Store(bits(v))
	return c
}

// bits returns the representation of v in a cell word.
func bits[T Value](v T) uint64 {
	var w uint64
	*(*T)(unsafe.Pointer(&w)) = v
	return w
}

// value is the inverse of bits.
func value[T Value](w uint64) T {
	return *(*T)(unsafe.Pointer(&w))
}

// Load returns the value held by c.
func (c *Cell[T]) Load() T {
	if Native {
		return value[T](c.word.Load())
	}
	rs := critical.Acquire()
	v := value[T](c.word.Load())
	critical.Release(rs)
	return v
}

// Store sets the value held by c.
func (c *Cell[T]) Store(v T) {
	if Native {
		c.word.Store(bits(v))
		return
	}
	rs := critical.Acquire()
	c.word.Store(bits(v))
	critical.Release(rs)
}

// Swap stores v and returns the previous value.
func (c *Cell[T]) Swap(v T) T {
	if Native {
		return value[T](c.word.Swap(bits(v)))
	}
	rs := critical.Acquire()
	old := c.word.Load()
	c.word.Store(bits(v))
	critical.Release(rs)
	return value[T](old)
}

// CompareAndSwap stores newVal if c holds oldVal, and reports whether it did.
func (c *Cell[T]) CompareAndSwap(oldVal, newVal T) bool {
	_, ok := c.CompareExchange(oldVal, newVal)
	return ok
}

// CompareExchange stores newVal if c holds current. It returns the value c
// held before the call and whether the store happened; on success the
// returned value equals current.
func (c *Cell[T]) CompareExchange(current, newVal T) (T, bool) {
	want, next := bits(current), bits(newVal)
	if Native {
		for {
			if c.word.CompareAndSwap(want, next) {
				return current, true
			}
			if prev := c.word.Load(); prev != want {
				return value[T](prev), false
			}
			// The word changed back to want between the failed swap and
			// the load; try again so the result is never spuriously false.
		}
	}
	rs := critical.Acquire()
	defer critical.Release(rs)
	prev := c.word.Load()
	if prev != want {
		return value[T](prev), false
	}
	c.word.Store(next)
	return current, true
}

// CompareExchangeWeak is like CompareExchange but may fail spuriously, which
// allows cheaper implementations inside retry loops. The current
// implementations never do.
func (c *Cell[T]) CompareExchangeWeak(current, newVal T) (T, bool) {
	return c.CompareExchange(current, newVal)
}

// Update atomically replaces the value v held by c with f(v) and returns the
// new value. f may run more than once and must not have side effects.
func (c *Cell[T]) Update(f func(T) T) T {
	if Native {
		for {
			old := c.word.Load()
			next := f(value[T](old))
			if c.word.CompareAndSwap(old, bits(next)) {
				return next
			}
		}
	}
	rs := critical.Acquire()
	defer critical.Release(rs)
	next := f(value[T](c.word.Load()))
	c.word.Store(bits(next))
	return next
}

// Int is an atomic integer cell supporting arithmetic.
type Int[T constraints.Integer] struct {
	Cell[T]
}

// Add adds delta to the value held by i and returns the new value.
func (i *Int[T]) Add(delta T) T {
	return i.Update(func(v T) T { return v + delta })
}
