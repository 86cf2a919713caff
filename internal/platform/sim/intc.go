package sim

import "sync"

// Controller latches raised interrupt lines in arrival order. Lines raised
// while the kernel executes are queued, never nested; the kernel drains them
// at scheduler boundaries.
type Controller struct {
	mu      sync.Mutex
	pending []int
}

// NewController creates an empty interrupt controller.
func NewController() *Controller {
	return &Controller{}
}

// Raise latches an interrupt line. Safe to call from any goroutine, which
// stands in for asynchronous hardware.
func (c *Controller) Raise(irq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, irq)
}

// Pending pops the oldest latched line.
func (c *Controller) Pending() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return 0, false
	}
	irq := c.pending[0]
	c.pending = c.pending[1:]
	return irq, true
}

// HasPending reports whether any line is latched without consuming it.
func (c *Controller) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}
