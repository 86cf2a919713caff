package sched

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/fault"
	"github.com/kestrel-os/kestrel/internal/infrastructure/monitoring"
	"github.com/kestrel-os/kestrel/internal/mpu"
	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/process"
	"github.com/kestrel-os/kestrel/internal/syscall"
)

// Scheduler drives the kernel main loop: service latched interrupts, pick
// the next runnable process, run one activation, repeat.
type Scheduler struct {
	table       *process.Table
	cpu         platform.UserspaceCPU
	hw          platform.MPU
	constraints mpu.Constraints
	intc        platform.InterruptController
	registry    *capsule.Registry
	dispatcher  *syscall.Dispatcher
	faults      *fault.Handler
	log         *zap.Logger
	metrics     *monitoring.Metrics

	// budget is how many syscalls one activation may issue before the
	// scheduler moves to the next candidate.
	budget int
	last   int
}

// Config wires a scheduler.
type Config struct {
	Table      *process.Table
	CPU        platform.UserspaceCPU
	MPU        platform.MPU
	Interrupts platform.InterruptController
	Registry   *capsule.Registry
	Dispatcher *syscall.Dispatcher
	Faults     *fault.Handler
	Log        *zap.Logger
	Metrics    *monitoring.Metrics
	Budget     int
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Budget <= 0 {
		cfg.Budget = 32
	}
	return &Scheduler{
		table:       cfg.Table,
		cpu:         cfg.CPU,
		hw:          cfg.MPU,
		constraints: mpu.FromHardware(cfg.MPU),
		intc:        cfg.Interrupts,
		registry:    cfg.Registry,
		dispatcher:  cfg.Dispatcher,
		faults:      cfg.Faults,
		log:         cfg.Log,
		metrics:     cfg.Metrics,
		budget:      cfg.Budget,
		last:        -1,
	}
}

// Run executes the kernel loop until the context is cancelled or every
// process reaches a terminal state with no interrupts pending.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.RunOnce() {
			continue
		}
		if s.AllTerminal() {
			s.log.Info("all processes terminal, kernel idle")
			return nil
		}
		// Wait-for-interrupt stand-in: nothing is runnable until an
		// interrupt unblocks a process.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// RunOnce services interrupts and runs at most one process activation. It
// reports whether any process ran.
func (s *Scheduler) RunOnce() bool {
	s.ServiceInterrupts()
	pid, ok := s.next()
	if !ok {
		return false
	}
	s.last = pid
	s.runActivation(pid)
	return true
}

// AllTerminal reports whether every process has stopped for good.
func (s *Scheduler) AllTerminal() bool {
	all := true
	s.table.ForEach(func(p *process.Process) {
		if !p.State.Terminal() {
			all = false
		}
	})
	return all
}

// ServiceInterrupts drains latched interrupt lines into their bound
// capsules. Runs in kernel context between activations, never nested.
func (s *Scheduler) ServiceInterrupts() {
	if s.intc == nil {
		return
	}
	for {
		irq, ok := s.intc.Pending()
		if !ok {
			return
		}
		if !s.registry.DispatchInterrupt(irq) {
			s.log.Warn("interrupt with no bound capsule", zap.Int("irq", irq))
		}
	}
}

// next picks the next runnable process after the previously scheduled one,
// wrapping in table index order.
func (s *Scheduler) next() (int, bool) {
	n := s.table.Len()
	for i := 1; i <= n; i++ {
		pid := (s.last + i) % n
		if p, ok := s.table.Get(pid); ok && p.Runnable() {
			return pid, true
		}
	}
	return 0, false
}

// runActivation gives one process the core until it blocks, exits,
// faults, is preempted, or exhausts its syscall budget.
func (s *Scheduler) runActivation(pid int) {
	budget := s.budget
	for {
		// Re-resolve every iteration: the process may have been reset.
		p, ok := s.table.Get(pid)
		if !ok {
			// The scheduler selected a nonexistent index: the table is
			// corrupt and isolation can no longer be argued.
			panic("scheduler selected invalid process index")
		}
		if !p.Runnable() {
			s.hw.Clear()
			return
		}

		if err := s.installRegions(p); err != nil {
			s.faults.OnFault(p, fault.KindRegionLayout, 0)
			s.hw.Clear()
			return
		}

		kind := platform.ResumeOrdinary
		if p.State.Blocked() {
			k, ok := s.deliverUpcall(p)
			if !ok {
				s.hw.Clear()
				return
			}
			kind = k
		} else if p.State == process.Unstarted {
			p.State = process.Running
		}

		trap, err := s.cpu.Resume(p.Regs, kind)
		if err != nil {
			// The execution substrate failed underneath the kernel; this is
			// not attributable to the process.
			panic("userspace cpu failure: " + err.Error())
		}
		if s.metrics != nil {
			s.metrics.ContextSwitches.Inc()
		}
		p.Regs = trap.Regs

		if trap.Reason != platform.TrapInterrupt && !p.RAM.Contains(trap.Regs.SP) {
			s.faults.OnFault(p, fault.KindBadStackPointer, trap.Regs.SP)
			s.hw.Clear()
			return
		}

		switch trap.Reason {
		case platform.TrapInterrupt:
			// Implicit suspension: the process stays runnable and resumes
			// on a later activation.
			s.ServiceInterrupts()
			return
		case platform.TrapFault:
			s.faults.OnFault(p, fault.KindAccessViolation, trap.FaultAddr)
			s.hw.Clear()
			return
		case platform.TrapSyscall:
			switch s.dispatcher.Handle(p, trap) {
			case syscall.OutcomeContinue:
				budget--
				if budget <= 0 {
					return
				}
			case syscall.OutcomeBlocked:
				budget--
				if budget <= 0 {
					s.hw.Clear()
					return
				}
				// A yield with a satisfying upcall already pending resumes
				// immediately; otherwise the activation ends here.
				if !p.Runnable() {
					s.hw.Clear()
					return
				}
			case syscall.OutcomeExited:
				s.hw.Clear()
				s.log.Info("process exited",
					zap.Int("pid", p.ID), zap.Uint32("code", p.ExitCode))
				return
			case syscall.OutcomeExitRestart:
				s.faults.Restart(p)
				s.hw.Clear()
				return
			case syscall.OutcomeFault:
				s.faults.OnFault(p, fault.KindBadSyscall, 0)
				s.hw.Clear()
				return
			}
		}
	}
}

// installRegions recomputes the protection region set when the grant
// watermark has moved and programs it into the hardware.
func (s *Scheduler) installRegions(p *process.Process) error {
	if p.RegionsStale() {
		set, err := mpu.Layout(p.Flash, p.RAM, p.Grants.Watermark(), s.constraints)
		if err != nil {
			s.log.Warn("region layout failed",
				zap.Int("pid", p.ID), zap.Error(err))
			return err
		}
		p.Regions = set
	}
	if err := s.hw.Configure(p.Regions.Regions); err != nil {
		// A region set this kernel computed was rejected by hardware it was
		// computed for: the protection state is no longer trustworthy.
		panic("protection unit rejected computed region set: " + err.Error())
	}
	return nil
}

// deliverUpcall wakes a blocked process. For a plain yield it pops the
// oldest upcall whose subscription is still live and points the register
// context at its callback; stale upcalls are discarded without breaking
// FIFO order for the rest. For yield-wait-for the awaited upcall's
// arguments come back directly in r0..r2 without entering a callback, so a
// cleared subscription cannot strand the waiter. It reports false when
// nothing deliverable is pending.
func (s *Scheduler) deliverUpcall(p *process.Process) (platform.ResumeKind, bool) {
	for {
		switch p.State {
		case process.Yielded:
			u, ok := p.Upcalls.Dequeue()
			if !ok {
				return platform.ResumeOrdinary, false
			}
			sub, ok := p.Subscriptions[process.SubKey{Driver: u.DriverID, Subscribe: u.SubscribeID}]
			if !ok || sub.CallbackPC == 0 {
				continue
			}
			p.Regs.PC = sub.CallbackPC
			p.Regs.R0 = u.Args[0]
			p.Regs.R1 = u.Args[1]
			p.Regs.R2 = u.Args[2]
			p.Regs.R3 = sub.UserData
			p.State = process.Running
			if s.metrics != nil {
				s.metrics.UpcallsDone.Inc()
			}
			return platform.ResumeUpcall, true
		case process.YieldedFor:
			u, ok := p.Upcalls.DequeueMatching(p.WaitingFor.Driver, p.WaitingFor.Subscribe)
			if !ok {
				return platform.ResumeOrdinary, false
			}
			p.Regs.R0 = u.Args[0]
			p.Regs.R1 = u.Args[1]
			p.Regs.R2 = u.Args[2]
			p.Regs.R3 = 0
			p.State = process.Running
			if s.metrics != nil {
				s.metrics.UpcallsDone.Inc()
			}
			return platform.ResumeOrdinary, true
		default:
			return platform.ResumeOrdinary, false
		}
	}
}
