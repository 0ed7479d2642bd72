package engine

import (
	"sync/atomic"
	"time"
)

// Clock stamps operations with Unix millisecond timestamps.
// Implemented by WallClock (production) and testutil.ManualClock (tests).
type Clock interface {
	Now() int64
}

// WallClock is a monotonic millisecond clock backed by the system time.
//
// Now never returns a value less than or equal to a previous one, even when
// the system clock steps backwards or two operations land in the same
// millisecond. Two local ops therefore never tie, so an edit made right after
// an add on the same item always supersedes it.
//
// Thread-safety: WallClock is safe for concurrent use (atomic operations).
type WallClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewWallClock creates a clock reading time.Now.
func NewWallClock() *WallClock {
	return &WallClock{now: time.Now}
}

// NewWallClockAt creates a clock that will never return a value <= last.
// Used when resuming a persisted document whose watermark may be ahead of
// the local system time.
func NewWallClockAt(last int64) *WallClock {
	c := NewWallClock()
	c.last.Store(last)
	return c
}

// Now returns max(system time in ms, previous value + 1).
func (c *WallClock) Now() int64 {
	wall := c.now().UnixMilli()
	for {
		prev := c.last.Load()
		next := wall
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Observe raises the clock past ts so later local stamps sort after
// everything this replica has already seen.
func (c *WallClock) Observe(ts int64) {
	for {
		prev := c.last.Load()
		if ts <= prev || c.last.CompareAndSwap(prev, ts) {
			return
		}
	}
}

// Current returns the last value handed out without advancing the clock.
func (c *WallClock) Current() int64 {
	return c.last.Load()
}
