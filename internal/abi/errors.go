package abi

import "fmt"

// ErrorCode is the closed set of failure codes returned to a process across
// the syscall boundary. Codes are stable numeric values; the kernel never
// surfaces free-form error text to user mode.
type ErrorCode uint32

const (
	// Ok is the success encoding. It is not an error; it exists so a single
	// register can carry either outcome.
	Ok ErrorCode = 0

	Fail      ErrorCode = 1  // unspecified failure
	Busy      ErrorCode = 2  // resource busy, retry later
	Already   ErrorCode = 3  // operation already in progress
	Off       ErrorCode = 4  // underlying device is off
	Reserve   ErrorCode = 5  // reservation required or failed
	Invalid   ErrorCode = 6  // malformed argument
	Size      ErrorCode = 7  // size out of range for the operation
	Cancelled ErrorCode = 8  // operation cancelled
	NoMem     ErrorCode = 9  // allocation (grant) exhausted
	NoSupport ErrorCode = 10 // driver exists but not this operation
	NoDevice  ErrorCode = 11 // no driver with that identifier
)

// String returns the stable lowercase name of the code.
func (e ErrorCode) String() string {
	switch e {
	case Ok:
		return "ok"
	case Fail:
		return "fail"
	case Busy:
		return "busy"
	case Already:
		return "already"
	case Off:
		return "off"
	case Reserve:
		return "reserve"
	case Invalid:
		return "invalid"
	case Size:
		return "size"
	case Cancelled:
		return "cancelled"
	case NoMem:
		return "nomem"
	case NoSupport:
		return "nosupport"
	case NoDevice:
		return "nodevice"
	default:
		return fmt.Sprintf("errorcode(%d)", uint32(e))
	}
}

// Error makes ErrorCode usable as a Go error inside the kernel. Only the
// numeric value ever crosses the syscall boundary.
func (e ErrorCode) Error() string {
	return "syscall error: " + e.String()
}
