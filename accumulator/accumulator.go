// Package accumulator provides the overflow-checked running total held by
// every node of the aggregation tree.
package accumulator

import (
	"errors"
	"math"

	"go.uber.org/atomic"
)

// ErrOverflow is returned when an addition would wrap past math.MaxUint64.
var ErrOverflow = errors.New("accumulator overflow")

// Accumulator is a uint64 counter with checked addition and an atomic
// drain. The zero value is an empty accumulator.
type Accumulator struct {
	value atomic.Uint64
}

// New returns an accumulator seeded with value.
func New(value uint64) *Accumulator {
	a := &Accumulator{}
	a.value.Store(value)
	return a
}

// Add adds delta, or returns ErrOverflow and leaves the value untouched.
func (a *Accumulator) Add(delta uint64) error {
	for {
		cur := a.value.Load()
		if delta > math.MaxUint64-cur {
			return ErrOverflow
		}
		if a.value.CompareAndSwap(cur, cur+delta) {
			return nil
		}
	}
}

// Take returns the current value and resets it to zero in one step.
func (a *Accumulator) Take() uint64 {
	return a.value.Swap(0)
}

// Load returns the current value.
func (a *Accumulator) Load() uint64 {
	return a.value.Load()
}
