package testutil

import "sync"

// ManualClock is a millisecond clock that only moves when told to.
//
// Now returns the current value and then advances it by Step (default 1), so
// consecutive local actions get distinct, predictable timestamps. Scenario
// tests set absolute times with Set.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	now  int64
	step int64
}

// NewManualClock creates a clock whose first Now returns start.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start, step: 1}
}

// Now returns the current time and advances by the step.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now
	c.now += c.step
	return ts
}

// Peek returns the value the next Now will return.
func (c *ManualClock) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to ts. The clock may move backwards; tests use that
// to model skewed devices.
func (c *ManualClock) Set(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

// Advance moves the clock forward by d milliseconds.
func (c *ManualClock) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// SetStep changes how far each Now advances the clock.
func (c *ManualClock) SetStep(step int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}
