package platform

import (
	"github.com/kestrel-os/kestrel/internal/abi"
)

// TrapReason classifies why control returned from user mode to the kernel.
type TrapReason int

const (
	// TrapSyscall: the process executed a syscall instruction. The class and
	// arguments are in the trapping register file.
	TrapSyscall TrapReason = iota
	// TrapFault: the protection unit denied an access. FaultAddr holds the
	// offending address.
	TrapFault
	// TrapInterrupt: a hardware interrupt preempted the process. The process
	// remains runnable; the kernel services the interrupt and reschedules.
	TrapInterrupt
)

// String returns the trap reason name.
func (t TrapReason) String() string {
	switch t {
	case TrapSyscall:
		return "syscall"
	case TrapFault:
		return "fault"
	case TrapInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Trap describes one return from user mode: the reason, the register file at
// the trap instant, and fault details when applicable. For syscall traps the
// class number travels out of band of the argument registers, the way an SVC
// immediate does, so r0..r3 keep their full width for arguments.
type Trap struct {
	Reason    TrapReason
	Class     uint32
	Regs      abi.RegisterFile
	FaultAddr uint32
}

// ResumeKind tells the CPU what the kernel is transferring control into:
// an ordinary continuation of the process, or the callback of an upcall the
// kernel just scheduled into the register context.
type ResumeKind int

const (
	ResumeOrdinary ResumeKind = iota
	ResumeUpcall
)

// UserspaceCPU runs one process activation in unprivileged mode. Resume
// transfers control with the given register context and returns the next
// trap. Kernel code and user code are never concurrently active: Resume is
// synchronous and the kernel runs to completion between calls.
type UserspaceCPU interface {
	Resume(regs abi.RegisterFile, kind ResumeKind) (Trap, error)
}

// MPU programs the hardware protection unit. Configure replaces the entire
// active region set before a context switch into a process; Clear denies all
// user-mode access, used while no process is executing and for processes in
// terminal states.
type MPU interface {
	// NumRegions is the hardware region count, typically 8.
	NumRegions() int
	// MinRegionSize is the smallest representable region length in bytes.
	MinRegionSize() uint32
	// Configure installs the region set. Implementations must reject regions
	// that violate the hardware's alignment rules.
	Configure(regions []Region) error
	// Clear removes all regions.
	Clear()
}

// InterruptController exposes deferred interrupt delivery. Interrupts raised
// while the kernel is executing are latched, never nested; the kernel drains
// them at scheduler boundaries.
type InterruptController interface {
	// Pending pops the oldest latched interrupt line, if any.
	Pending() (irq int, ok bool)
}

// Memory is byte-addressable storage with a fixed base address, used for
// both the application flash range and the application RAM range.
type Memory interface {
	Extent() Extent
	// Read copies length bytes starting at addr. Out-of-range reads fail.
	Read(addr, length uint32) ([]byte, error)
	// Write copies b starting at addr. Out-of-range writes fail.
	Write(addr uint32, b []byte) error
}
