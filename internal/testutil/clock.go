// Package testutil holds deterministic stand-ins for time and identity
// sources, so tests and scenario runs produce byte-identical output.
package testutil

import (
	"sync/atomic"
	"time"
)

// Epoch is the wall time DeterministicClock readings are offset from.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a tick counter safe for concurrent use. Ticks start
// at 1; Reset rewinds to the beginning so a rerun sees the same ticks.
type DeterministicClock struct {
	ticks atomic.Int64
}

// NewDeterministicClock returns a clock that has not ticked yet.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next ticks and returns the new count.
func (c *DeterministicClock) Next() int64 { return c.ticks.Add(1) }

// Current returns the count without ticking.
func (c *DeterministicClock) Current() int64 { return c.ticks.Load() }

// Now ticks and returns Epoch plus one second per tick. It can stand in for
// time.Now where originating times are stamped.
func (c *DeterministicClock) Now() time.Time {
	return Epoch.Add(time.Duration(c.Next()) * time.Second)
}

// Reset rewinds the clock to zero ticks.
func (c *DeterministicClock) Reset() { c.ticks.Store(0) }
