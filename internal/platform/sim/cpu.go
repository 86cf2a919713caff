package sim

import (
	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/platform"
)

// Step is one action a scripted program performs when the scheduler resumes
// it: either a syscall with the given argument registers, or, when FaultAt
// is nonzero, a wild memory access that the protection unit denies.
type Step struct {
	Class          abi.Class
	R0, R1, R2, R3 uint32
	FaultAt        uint32
}

// Syscall builds a syscall step.
func Syscall(class abi.Class, args ...uint32) Step {
	s := Step{Class: class}
	regs := []*uint32{&s.R0, &s.R1, &s.R2, &s.R3}
	for i, a := range args {
		if i >= len(regs) {
			break
		}
		*regs[i] = a
	}
	return s
}

// BadAccess builds a step that faults on addr instead of trapping into a
// syscall.
func BadAccess(addr uint32) Step {
	return Step{FaultAt: addr}
}

// Delivery records one upcall the program observed: the callback program
// counter the kernel jumped to and the argument registers at entry.
type Delivery struct {
	PC       uint32
	Args     [3]uint32
	UserData uint32
}

// Program is a scripted application: a sequence of steps executed one per
// resume, standing in for real user-mode code. After the script is
// exhausted the program issues Exit(0) forever unless Hang is set, in which
// case it yields forever (the shape of a real event-loop application).
type Program struct {
	Steps []Step
	Hang  bool

	cursor     int
	Deliveries []Delivery
	Resumes    []abi.RegisterFile
}

// Reset rewinds the script, mirroring a process restart from its entry
// point. Observed deliveries and resumes are kept for test assertions.
func (p *Program) Reset() {
	p.cursor = 0
}

// CPU implements platform.UserspaceCPU by dispatching resumes to installed
// scripted programs, located by the flash extent containing the program
// counter. An upcall resume records a delivery and then continues the
// script, the way a real application returns from a callback into its main
// loop.
type CPU struct {
	intc     *Controller
	installs []install
}

type install struct {
	flash platform.Extent
	entry uint32
	prog  *Program
}

// NewCPU creates a CPU. When intc is non-nil, a latched interrupt preempts
// the next resume before any step executes, modeling implicit suspension.
func NewCPU(intc *Controller) *CPU {
	return &CPU{intc: intc}
}

// Install registers a program for the application occupying flash, entered
// at entry.
func (c *CPU) Install(flash platform.Extent, entry uint32, prog *Program) {
	c.installs = append(c.installs, install{flash: flash, entry: entry, prog: prog})
}

// Resume runs one scripted activation and returns the resulting trap.
// Executing outside any installed flash image faults.
func (c *CPU) Resume(regs abi.RegisterFile, kind platform.ResumeKind) (platform.Trap, error) {
	if c.intc != nil && c.intc.HasPending() {
		return platform.Trap{Reason: platform.TrapInterrupt, Regs: regs}, nil
	}

	var ins *install
	for i := range c.installs {
		if c.installs[i].flash.Contains(regs.PC) {
			ins = &c.installs[i]
			break
		}
	}
	if ins == nil {
		return platform.Trap{Reason: platform.TrapFault, Regs: regs, FaultAddr: regs.PC}, nil
	}

	prog := ins.prog
	prog.Resumes = append(prog.Resumes, regs)
	if kind == platform.ResumeUpcall {
		prog.Deliveries = append(prog.Deliveries, Delivery{
			PC:       regs.PC,
			Args:     [3]uint32{regs.R0, regs.R1, regs.R2},
			UserData: regs.R3,
		})
	}

	if prog.cursor >= len(prog.Steps) {
		out := regs
		out.PC = ins.entry
		if prog.Hang {
			out.R0 = abi.YieldWait
			return syscallTrap(abi.ClassYield, out), nil
		}
		out.R0 = abi.ExitTerminate
		out.R1 = 0
		return syscallTrap(abi.ClassExit, out), nil
	}

	step := prog.Steps[prog.cursor]
	prog.cursor++

	out := regs
	out.PC = ins.entry
	if step.FaultAt != 0 {
		return platform.Trap{Reason: platform.TrapFault, Regs: out, FaultAddr: step.FaultAt}, nil
	}
	out.R0, out.R1, out.R2, out.R3 = step.R0, step.R1, step.R2, step.R3
	return syscallTrap(step.Class, out), nil
}

func syscallTrap(class abi.Class, regs abi.RegisterFile) platform.Trap {
	return platform.Trap{Reason: platform.TrapSyscall, Class: uint32(class), Regs: regs}
}
