package syscall

import (
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/grant"
	"github.com/kestrel-os/kestrel/internal/infrastructure/monitoring"
	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/process"
)

// Outcome tells the scheduler what became of the trapping process.
type Outcome int

const (
	// OutcomeContinue: the syscall completed synchronously; the process
	// keeps its slot if budget remains.
	OutcomeContinue Outcome = iota
	// OutcomeBlocked: the process yielded and waits for an upcall.
	OutcomeBlocked
	// OutcomeExited: the process stopped voluntarily.
	OutcomeExited
	// OutcomeExitRestart: the process requested its own restart.
	OutcomeExitRestart
	// OutcomeFault: the trap revealed corrupted control state; the fault
	// policy takes over.
	OutcomeFault
)

// Dispatcher is the syscall boundary. It owns no process state; it
// mutates the process named by each trap and reports the outcome.
type Dispatcher struct {
	registry *capsule.Registry
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewDispatcher creates a dispatcher routing driver calls through registry.
func NewDispatcher(registry *capsule.Registry, log *zap.Logger, metrics *monitoring.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, log: log, metrics: metrics}
}

// Handle services one syscall trap. The process's saved register context
// has already been updated from the trap; return values are written back
// into it before the process next runs.
func (d *Dispatcher) Handle(p *process.Process, trap platform.Trap) Outcome {
	start := time.Now()
	class := abi.Class(trap.Class)
	if !class.Valid() {
		// An impossible class number means the trap frame itself cannot be
		// trusted; this is not a recoverable argument error.
		d.log.Warn("malformed syscall encoding",
			zap.Int("pid", p.ID), zap.Uint32("class", trap.Class))
		return OutcomeFault
	}
	defer func() {
		if d.metrics != nil {
			d.metrics.ObserveSyscall(class.String(), time.Since(start))
		}
	}()

	args := trap.Regs
	switch class {
	case abi.ClassYield:
		return d.yield(p, args)
	case abi.ClassSubscribe:
		return d.subscribe(p, args)
	case abi.ClassCommand:
		return d.command(p, args)
	case abi.ClassReadWriteAllow:
		return d.allow(p, args, false)
	case abi.ClassReadOnlyAllow:
		return d.allow(p, args, true)
	case abi.ClassMemop:
		return d.memop(p, args)
	case abi.ClassExit:
		return d.exit(p, args)
	}
	return OutcomeFault
}

func (d *Dispatcher) yield(p *process.Process, args abi.RegisterFile) Outcome {
	switch args.R0 {
	case abi.YieldWait:
		p.State = process.Yielded
		return OutcomeBlocked
	case abi.YieldWaitFor:
		p.State = process.YieldedFor
		p.WaitingFor = process.SubKey{Driver: args.R1, Subscribe: args.R2}
		return OutcomeBlocked
	default:
		d.fail(p, abi.Invalid)
		return OutcomeContinue
	}
}

func (d *Dispatcher) subscribe(p *process.Process, args abi.RegisterFile) Outcome {
	driverID, subID, callback, userdata := args.R0, args.R1, args.R2, args.R3
	drv, ok := d.registry.Lookup(driverID)
	if !ok {
		d.fail(p, abi.NoDevice)
		return OutcomeContinue
	}
	// A callback must live in the process's own executable flash; zero
	// unsubscribes.
	if callback != 0 && !p.Flash.Contains(callback) {
		d.fail(p, abi.Invalid)
		return OutcomeContinue
	}
	if code := drv.Subscribe(p.ID, subID); code != abi.Ok {
		d.fail(p, code)
		return OutcomeContinue
	}
	key := process.SubKey{Driver: driverID, Subscribe: subID}
	prev := p.Subscriptions[key]
	if callback == 0 {
		delete(p.Subscriptions, key)
	} else {
		p.Subscriptions[key] = process.Subscription{CallbackPC: callback, UserData: userdata}
	}
	p.Regs.SetSuccessU32x2(prev.CallbackPC, prev.UserData)
	return OutcomeContinue
}

func (d *Dispatcher) command(p *process.Process, args abi.RegisterFile) Outcome {
	driverID, cmd := args.R0, args.R1
	drv, ok := d.registry.Lookup(driverID)
	if !ok {
		d.fail(p, abi.NoDevice)
		return OutcomeContinue
	}
	res := drv.Command(p.ID, cmd, args.R2, args.R3)
	if res.Code != abi.Ok {
		d.fail(p, res.Code)
		return OutcomeContinue
	}
	p.Regs.SetSuccessU32x2(res.Values[0], res.Values[1])
	return OutcomeContinue
}

func (d *Dispatcher) allow(p *process.Process, args abi.RegisterFile, readOnly bool) Outcome {
	driverID, allowID, ptr, length := args.R0, args.R1, args.R2, args.R3
	drv, ok := d.registry.Lookup(driverID)
	if !ok {
		d.fail(p, abi.NoDevice)
		return OutcomeContinue
	}
	if uint64(ptr)+uint64(length) > 0xFFFFFFFF {
		// Wrapping pointer arithmetic cannot come from well-formed userspace
		// libraries; treat as corruption.
		d.log.Warn("allow pointer wraps address space",
			zap.Int("pid", p.ID), zap.Uint32("ptr", ptr), zap.Uint32("len", length))
		return OutcomeFault
	}
	if ptr != 0 || length != 0 {
		if !d.ownsBuffer(p, ptr, length, readOnly) {
			d.fail(p, abi.Invalid)
			return OutcomeContinue
		}
	}
	buf := process.Buffer{Ptr: ptr, Size: length}
	var code abi.ErrorCode
	if readOnly {
		code = drv.AllowReadOnly(p.ID, allowID, buf)
	} else {
		code = drv.AllowReadWrite(p.ID, allowID, buf)
	}
	if code != abi.Ok {
		d.fail(p, code)
		return OutcomeContinue
	}
	key := process.AllowKey{Driver: driverID, Allow: allowID, ReadOnly: readOnly}
	prev := p.Allows[key]
	if ptr == 0 && length == 0 {
		delete(p.Allows, key)
	} else {
		p.Allows[key] = buf
	}
	p.Regs.SetSuccessPtr(prev.Ptr, prev.Size)
	return OutcomeContinue
}

// ownsBuffer enforces the isolation rule of the allow syscalls: a process
// may only share memory it owns. Writable shares must sit inside the
// application partition of its RAM, below the grant watermark; read-only
// shares may also come from its flash image.
func (d *Dispatcher) ownsBuffer(p *process.Process, ptr, length uint32, readOnly bool) bool {
	appRAM := platform.Extent{Base: p.RAM.Base, Size: p.Grants.Watermark() - p.RAM.Base}
	if appRAM.ContainsRange(ptr, length) {
		return true
	}
	return readOnly && p.Flash.ContainsRange(ptr, length)
}

func (d *Dispatcher) memop(p *process.Process, args abi.RegisterFile) Outcome {
	op, arg := args.R0, args.R1
	switch op {
	case abi.MemopBrk:
		return d.setBrk(p, arg)
	case abi.MemopSbrk:
		return d.setBrk(p, uint32(int64(p.Brk)+int64(int32(arg))))
	case abi.MemopMemoryStart:
		p.Regs.SetSuccessU32(p.RAM.Base)
	case abi.MemopMemoryEnd:
		p.Regs.SetSuccessU32(p.RAM.End())
	case abi.MemopFlashStart:
		p.Regs.SetSuccessU32(p.Flash.Base)
	case abi.MemopFlashEnd:
		p.Regs.SetSuccessU32(p.Flash.End())
	case abi.MemopGrantWatermark:
		p.Regs.SetSuccessU32(p.Grants.Watermark())
	default:
		d.fail(p, abi.NoSupport)
	}
	return OutcomeContinue
}

func (d *Dispatcher) setBrk(p *process.Process, brk uint32) Outcome {
	if brk < p.InitialBrk || brk > p.RAM.End() {
		d.fail(p, abi.Invalid)
		return OutcomeContinue
	}
	if err := p.Grants.SetFloor(brk); err != nil {
		if err == grant.ErrOutOfMemory {
			d.fail(p, abi.NoMem)
			return OutcomeContinue
		}
		d.fail(p, abi.Fail)
		return OutcomeContinue
	}
	p.Brk = brk
	p.Regs.SetSuccessU32(brk)
	return OutcomeContinue
}

func (d *Dispatcher) exit(p *process.Process, args abi.RegisterFile) Outcome {
	switch args.R0 {
	case abi.ExitRestart:
		return OutcomeExitRestart
	default:
		p.ExitCode = args.R1
		p.State = process.Stopped
		return OutcomeExited
	}
}

func (d *Dispatcher) fail(p *process.Process, code abi.ErrorCode) {
	p.Regs.SetFailure(code)
	if d.metrics != nil {
		d.metrics.SyscallErrors.WithLabelValues(code.String()).Inc()
	}
}
