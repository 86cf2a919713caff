package sim

import "sync"

// Clock is a manually advanced tick counter. Tests and the simulated board
// drive it with Advance and latch the timer interrupt themselves; there is
// no wall-clock coupling.
type Clock struct {
	mu    sync.Mutex
	ticks uint32
}

// NewClock creates a clock starting at the given tick count.
func NewClock(start uint32) *Clock {
	return &Clock{ticks: start}
}

// Ticks returns the current tick count.
func (c *Clock) Ticks() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Advance moves the clock forward by n ticks, wrapping modulo 2^32.
func (c *Clock) Advance(n uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks += n
	return c.ticks
}
