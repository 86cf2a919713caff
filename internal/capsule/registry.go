package capsule

import "fmt"

// MaxDrivers bounds the driver identifier space. Identifiers are sparse
// but small; the table is a flat array so lookup is a bounds check and an
// index.
const MaxDrivers = 64

// Registry is the fixed driver dispatch table. Drivers register during
// boot; Seal closes the table before the first process runs.
type Registry struct {
	drivers [MaxDrivers]Driver
	irqs    map[int]InterruptHandler
	sealed  bool
	count   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{irqs: make(map[int]InterruptHandler)}
}

// Register binds a driver identifier. Fails on duplicate identifiers,
// identifiers outside the table, or registration after seal.
func (r *Registry) Register(id uint32, d Driver) error {
	if r.sealed {
		return fmt.Errorf("driver registry sealed")
	}
	if id >= MaxDrivers {
		return fmt.Errorf("driver id %#x outside table capacity %d", id, MaxDrivers)
	}
	if r.drivers[id] != nil {
		return fmt.Errorf("driver id %#x already registered", id)
	}
	r.drivers[id] = d
	r.count++
	return nil
}

// BindInterrupt routes a hardware interrupt line to a registered driver.
func (r *Registry) BindInterrupt(irq int, id uint32) error {
	if r.sealed {
		return fmt.Errorf("driver registry sealed")
	}
	d, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("driver id %#x not registered", id)
	}
	h, ok := d.(InterruptHandler)
	if !ok {
		return fmt.Errorf("driver id %#x does not handle interrupts", id)
	}
	if _, dup := r.irqs[irq]; dup {
		return fmt.Errorf("irq %d already bound", irq)
	}
	r.irqs[irq] = h
	return nil
}

// Seal closes the table; registration afterwards is a boot-sequence bug.
func (r *Registry) Seal() { r.sealed = true }

// Lookup resolves a driver identifier.
func (r *Registry) Lookup(id uint32) (Driver, bool) {
	if id >= MaxDrivers || r.drivers[id] == nil {
		return nil, false
	}
	return r.drivers[id], true
}

// Len returns the number of registered drivers.
func (r *Registry) Len() int { return r.count }

// DispatchInterrupt delivers a latched interrupt line to its bound
// capsule. Unbound lines are reported to the caller for logging.
func (r *Registry) DispatchInterrupt(irq int) bool {
	h, ok := r.irqs[irq]
	if !ok {
		return false
	}
	h.HandleInterrupt(irq)
	return true
}

// NotifyReset tells every driver implementing ResetHook that a process was
// reset, so stale per-process bookkeeping cannot reach the next
// instantiation.
func (r *Registry) NotifyReset(pid int) {
	for _, d := range r.drivers {
		if h, ok := d.(ResetHook); ok {
			h.ProcessReset(pid)
		}
	}
}
