package abi

import "fmt"

// Class identifies the syscall class encoded in a trap from user mode.
type Class uint32

const (
	ClassYield Class = iota
	ClassSubscribe
	ClassCommand
	ClassReadWriteAllow
	ClassReadOnlyAllow
	ClassMemop
	ClassExit

	numClasses
)

// Valid reports whether c is a defined syscall class. An out-of-range class
// number indicates corrupted control state, not a recoverable argument error.
func (c Class) Valid() bool {
	return c < numClasses
}

// String returns the class name for logs and traces.
func (c Class) String() string {
	switch c {
	case ClassYield:
		return "yield"
	case ClassSubscribe:
		return "subscribe"
	case ClassCommand:
		return "command"
	case ClassReadWriteAllow:
		return "allow-rw"
	case ClassReadOnlyAllow:
		return "allow-ro"
	case ClassMemop:
		return "memop"
	case ClassExit:
		return "exit"
	default:
		return fmt.Sprintf("class(%d)", uint32(c))
	}
}

// Yield flavors, carried in r0 of a yield syscall.
const (
	YieldWait    uint32 = 0 // block until any upcall is pending
	YieldWaitFor uint32 = 1 // block until a specific (driver, subscribe) upcall
)

// Memop operation numbers, carried in r0 of a memop syscall.
const (
	MemopBrk            uint32 = 0 // set the app break to r1
	MemopSbrk           uint32 = 1 // adjust the app break by signed r1
	MemopMemoryStart    uint32 = 2
	MemopMemoryEnd      uint32 = 3
	MemopFlashStart     uint32 = 4
	MemopFlashEnd       uint32 = 5
	MemopGrantWatermark uint32 = 6
)

// Exit variants, carried in r0 of an exit syscall.
const (
	ExitTerminate uint32 = 0
	ExitRestart   uint32 = 1
)
