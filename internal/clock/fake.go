package clock

import (
	"sync/atomic"
	"time"
)

// FakeClock is a Clock for tests. It only moves when told to.
type FakeClock struct {
	nanos atomic.Int64
}

func NewFakeClock(start time.Time) *FakeClock {
	c := &FakeClock{}
	c.Set(start)
	return c
}

func (c *FakeClock) Now() time.Time { return time.Unix(0, c.nanos.Load()).UTC() }

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	return time.Unix(0, c.nanos.Add(int64(d))).UTC()
}

func (c *FakeClock) Set(t time.Time) { c.nanos.Store(t.UnixNano()) }
