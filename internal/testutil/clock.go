package testutil

import (
	"sync"
	"time"
)

// DefaultStart is the first instant a Clock reports unless told otherwise.
var DefaultStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Clock is a deterministic wall clock for tests. Each call to Now returns
// the previous value plus step, starting at start.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewClock returns a clock whose first Now is start. A zero start means
// DefaultStart; a zero step freezes the clock.
func NewClock(start time.Time, step time.Duration) *Clock {
	if start.IsZero() {
		start = DefaultStart
	}
	return &Clock{start: start, step: step}
}

// Now returns the next instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Calls returns how many times Now has been called.
func (c *Clock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock so the next Now returns start again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
