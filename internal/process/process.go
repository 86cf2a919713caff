package process

import (
	"github.com/google/uuid"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/grant"
	"github.com/kestrel-os/kestrel/internal/mpu"
	"github.com/kestrel-os/kestrel/internal/platform"
)

// RestartPolicy decides whether a faulted process is restarted. faultCount
// is the total number of faults this process has taken, the current one
// included. Implementations live with the fault handler.
type RestartPolicy interface {
	ShouldRestart(faultCount int) bool
	String() string
}

// SubKey identifies one subscription slot.
type SubKey struct {
	Driver    uint32
	Subscribe uint32
}

// Subscription is a registered upcall callback: a function pointer in the
// process's flash plus an opaque userdata word echoed back on delivery.
type Subscription struct {
	CallbackPC uint32
	UserData   uint32
}

// AllowKey identifies one allowed-buffer slot.
type AllowKey struct {
	Driver   uint32
	Allow    uint32
	ReadOnly bool
}

// Buffer is a process-owned memory range shared with a driver through
// allow. The dispatcher validates it against the process's own bounds
// before it is stored; drivers only ever see validated handles.
type Buffer struct {
	Ptr  uint32
	Size uint32
}

// Process is one loaded application instance. Its identity is the table
// index; the instance UUID changes on every restart and exists only for
// log and inspection correlation.
type Process struct {
	ID       int
	Name     string
	Instance uuid.UUID

	Flash platform.Extent
	Entry uint32

	RAM        platform.Extent
	StackTop   uint32 // initial stack pointer; the stack grows down from here
	InitialBrk uint32 // app break at load time: top of copied data + BSS
	Brk        uint32 // current app break, adjusted by memop

	Regs  abi.RegisterFile
	State State
	// WaitingFor is the (driver, subscribe) pair a YieldedFor process is
	// blocked on; meaningless in other states.
	WaitingFor SubKey

	Grants  *grant.Arena
	Upcalls *UpcallQueue

	Subscriptions map[SubKey]Subscription
	Allows        map[AllowKey]Buffer

	Regions mpu.Set

	Faults   int
	Restarts int
	ExitCode uint32
	Policy   RestartPolicy
}

// Runnable reports whether the scheduler may give the process the core:
// either it has never run, it is mid-activation, or it is blocked with a
// satisfying upcall pending.
func (p *Process) Runnable() bool {
	switch p.State {
	case Unstarted, Running:
		return true
	case Yielded:
		return p.Upcalls.Len() > 0
	case YieldedFor:
		return p.Upcalls.HasMatching(p.WaitingFor.Driver, p.WaitingFor.Subscribe)
	default:
		return false
	}
}

// RegionsStale reports whether the cached protection region set no longer
// matches the grant watermark and must be recomputed before the next
// context switch.
func (p *Process) RegionsStale() bool {
	return p.Regions.Regions == nil || p.Regions.Watermark != p.Grants.Watermark()
}

// PrepareFirstRun points the register context at the entry point with a
// fresh stack. Called once at boot and again on every restart.
func (p *Process) PrepareFirstRun() {
	p.Regs = abi.RegisterFile{PC: p.Entry, SP: p.StackTop}
	p.State = Unstarted
}

// ResetForRestart performs the logical destruction/recreation cycle: the
// table slot and identity persist while the register context, stack
// pointer, upcall queue, subscriptions, and shared buffers reset. The grant
// arena resets unless preserveGrants keeps the prior layout.
func (p *Process) ResetForRestart(preserveGrants bool) {
	p.Instance = uuid.New()
	p.Brk = p.InitialBrk
	p.Upcalls.Clear()
	p.Subscriptions = make(map[SubKey]Subscription)
	p.Allows = make(map[AllowKey]Buffer)
	p.Grants.Reset(preserveGrants)
	if err := p.Grants.SetFloor(p.Brk); err != nil {
		// Preserved grants can sit below the reset break only if the layout
		// was corrupt; treat as full reset.
		p.Grants.Reset(false)
	}
	p.Regions = mpu.Set{}
	p.Restarts++
	p.PrepareFirstRun()
}
