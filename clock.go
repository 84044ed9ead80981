package pulsefield

import (
	"time"
)

// DefaultMaxDt caps a single frame step after a stall (window drag, breakpoint).
const DefaultMaxDt = 100 * time.Millisecond

type Clock struct {
	Time    time.Time
	Dt      time.Duration
	Elapsed time.Duration
	MaxDt   time.Duration
	Frame   uint64
}

func NewClock(now time.Time) *Clock {
	return &Clock{
		Time:  now,
		MaxDt: DefaultMaxDt,
	}
}

// Tick advances the clock to now and returns the clamped step.
func (c *Clock) Tick(now time.Time) time.Duration {
	dt := now.Sub(c.Time)
	if dt < 0 {
		dt = 0
	}
	if c.MaxDt > 0 && dt > c.MaxDt {
		dt = c.MaxDt
	}
	c.Dt = dt
	c.Elapsed += dt
	c.Time = now
	c.Frame++
	return dt
}

// Seconds returns the last step and the total elapsed time in seconds.
func (c *Clock) Seconds() (dt, elapsed float32) {
	return float32(c.Dt.Seconds()), float32(c.Elapsed.Seconds())
}
