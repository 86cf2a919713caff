package capsule

import (
	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/grant"
	"github.com/kestrel-os/kestrel/internal/process"
)

// Well-known driver identifiers.
const (
	DriverAlarm   uint32 = 0x0000
	DriverConsole uint32 = 0x0001
	DriverDebug   uint32 = 0x0008
)

// Result is the outcome of a command: an error code plus up to two value
// words returned to the process on success.
type Result struct {
	Code   abi.ErrorCode
	Values [2]uint32
}

// OK builds a success result carrying the given values.
func OK(values ...uint32) Result {
	var r Result
	for i, v := range values {
		if i >= len(r.Values) {
			break
		}
		r.Values[i] = v
	}
	return r
}

// Err builds a failure result.
func Err(code abi.ErrorCode) Result {
	return Result{Code: code}
}

// Backend is the kernel-provided capability set a capsule operates
// through: queuing upcalls, borrowing grant memory, and reaching buffers
// the owning process has explicitly shared. The kernel implements it; the
// identity and every buffer handle passed through it have already been
// validated at the syscall boundary.
type Backend interface {
	// EnqueueUpcall queues an upcall for delivery at the process's next
	// yield point. It reports false when the process does not exist, is in
	// a terminal state, or its queue is full; the event is then dropped.
	EnqueueUpcall(pid int, up abi.Upcall) bool

	// AllocateGrant reserves grant memory owned by (pid, driverID).
	// Idempotent per driver; fails with grant.ErrOutOfMemory when the
	// arena cannot satisfy the request.
	AllocateGrant(pid int, driverID, size, align uint32) (grant.Slot, error)

	// AllowedBuffer returns the buffer the process currently shares in the
	// given allow slot.
	AllowedBuffer(pid int, driverID, allowID uint32, readOnly bool) (process.Buffer, bool)

	// ReadAppMemory copies out of a validated shared buffer.
	ReadAppMemory(pid int, buf process.Buffer) ([]byte, error)

	// WriteAppMemory copies into a validated read-write shared buffer.
	WriteAppMemory(pid int, buf process.Buffer, b []byte) error
}

// Driver is the uniform dispatch surface of one capsule. The dispatcher
// has already validated argument buffers and stored subscription/allow
// state before these hooks run; drivers veto or acknowledge, and keep any
// per-process bookkeeping they need.
type Driver interface {
	// Command executes a driver operation. Command number 0 is the
	// existence probe by convention and must return OK().
	Command(pid int, cmd, arg0, arg1 uint32) Result

	// Subscribe is invoked after validation, before the subscription is
	// stored. A non-Ok return rejects the registration.
	Subscribe(pid int, subscribeID uint32) abi.ErrorCode

	// AllowReadWrite is invoked after validation with the new buffer. A
	// non-Ok return rejects the share.
	AllowReadWrite(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode

	// AllowReadOnly mirrors AllowReadWrite for read-only shares.
	AllowReadOnly(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode
}

// InterruptHandler is implemented by capsules that service hardware
// interrupt lines. The kernel routes lines bound at boot; handlers run in
// kernel context and must not block.
type InterruptHandler interface {
	HandleInterrupt(irq int)
}

// ResetHook is implemented by capsules holding per-process state that must
// not survive a restart of that process.
type ResetHook interface {
	ProcessReset(pid int)
}
