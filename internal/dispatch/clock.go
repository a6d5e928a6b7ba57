package dispatch

import (
	"sync"
	"time"
)

// Clock abstracts time so sleeps can be simulated in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock is a Clock whose timers fire immediately, moving simulated time
// forward by the requested duration.
type FakeClock struct {
	mu        sync.Mutex
	now       time.Time
	onAdvance func(now time.Time)
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the simulated time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances simulated time by d and returns an already fired channel.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	hook := c.onAdvance
	c.mu.Unlock()

	if hook != nil {
		hook(now)
	}

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// OnAdvance registers a callback run after every simulated advance.
func (c *FakeClock) OnAdvance(fn func(now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAdvance = fn
}
