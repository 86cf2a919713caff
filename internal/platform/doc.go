// Package platform defines the narrow hardware boundary the kernel core is
// written against: user-mode execution, the memory protection unit, the
// interrupt controller, and addressable flash/RAM. Chip-specific drivers and
// board bring-up live behind these interfaces; the kernel core never touches
// hardware state directly, which keeps every core component testable against
// the simulated implementations in platform/sim.
package platform
