package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/attrs"
	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/fault"
	"github.com/kestrel-os/kestrel/internal/infrastructure/config"
	"github.com/kestrel-os/kestrel/internal/infrastructure/monitoring"
	"github.com/kestrel-os/kestrel/internal/loader"
	"github.com/kestrel-os/kestrel/internal/mpu"
	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/process"
	"github.com/kestrel-os/kestrel/internal/sched"
	"github.com/kestrel-os/kestrel/internal/snapshot"
	"github.com/kestrel-os/kestrel/internal/syscall"
)

// Hardware bundles the platform handles a kernel runs on.
type Hardware struct {
	CPU        platform.UserspaceCPU
	MPU        platform.MPU
	Interrupts platform.InterruptController
	Flash      platform.Memory
	RAM        platform.Memory
}

// Kernel is the explicit kernel context: every mutable kernel-wide
// structure hangs off it and is reachable only through it.
type Kernel struct {
	BootID uuid.UUID

	// mu serializes the kernel: the scheduler loop holds it for the span
	// of each activation, and external control/inspection surfaces take
	// it between activations. Kernel code itself is single-threaded.
	mu sync.Mutex

	board    *config.Board
	hw       Hardware
	log      *zap.Logger
	metrics  *monitoring.Metrics
	table    *process.Table
	registry *capsule.Registry
	faults   *fault.Handler
	sched    *sched.Scheduler
	attrs    attrs.Attrs

	idleLogged bool
}

// New builds an unbooted kernel. The registry is open: callers register
// capsules and bind interrupts before Boot seals it.
func New(board *config.Board, hw Hardware, snaps *snapshot.Writer,
	log *zap.Logger, metrics *monitoring.Metrics) *Kernel {
	k := &Kernel{
		BootID:   uuid.New(),
		board:    board,
		hw:       hw,
		log:      log.Named("kernel"),
		metrics:  metrics,
		table:    process.NewTable(board.Processes.Capacity),
		registry: capsule.NewRegistry(),
	}
	k.faults = fault.NewHandler(k.registry, snaps, board.Policy.PreserveGrants,
		log.Named("fault"), metrics)
	k.attrs = attrs.Attrs{
		KernelFlash: platform.Extent{Base: board.Flash.KernelBase, Size: board.Flash.KernelSize},
		AppRAM:      platform.Extent{Base: board.RAM.AppBase, Size: board.RAM.AppSize},
		Version:     attrs.Version,
	}
	return k
}

// Registry exposes the driver table for boot-time registration.
func (k *Kernel) Registry() *capsule.Registry { return k.registry }

// Table exposes the process table for inspection surfaces.
func (k *Kernel) Table() *process.Table { return k.table }

// Attrs returns the kernel flash metadata block contents.
func (k *Kernel) Attrs() attrs.Attrs { return k.attrs }

// Faults exposes the fault handler for control surfaces that trigger
// explicit restarts.
func (k *Kernel) Faults() *fault.Handler { return k.faults }

// Boot discovers and loads the flash-resident application set, seals the
// registry and table, and prepares the scheduler. Applications whose
// memory cannot be expressed in the protection unit are skipped with a
// logged load error; they never run.
func (k *Kernel) Boot() error {
	appFlash := platform.Extent{Base: k.board.Flash.AppBase, Size: k.board.Flash.AppSize}
	appRAM := platform.Extent{Base: k.board.RAM.AppBase, Size: k.board.RAM.AppSize}
	if appFlash.Overlaps(k.attrs.KernelFlash) {
		return fmt.Errorf("boot: app flash %s overlaps kernel flash %s", appFlash, k.attrs.KernelFlash)
	}

	bins, err := loader.Discover(k.hw.Flash, appFlash)
	if err != nil {
		k.log.Warn("flash walk ended early", zap.Error(err))
	}
	k.log.Info("application discovery complete", zap.Int("images", len(bins)))

	constraints := mpu.FromHardware(k.hw.MPU)
	opts := loader.Options{
		StackSize:          k.board.Processes.StackSize,
		MinRAMSize:         k.board.Processes.MinRAMSize,
		UpcallCapacity:     k.board.Processes.UpcallCapacity,
		RequireCredentials: k.board.Processes.RequireCredentials,
		RegionAlign:        constraints.MinRegionSize,
	}
	carver := loader.NewRAMCarver(appRAM)

	for _, bin := range bins {
		p, err := loader.Load(bin, k.hw.Flash, k.hw.RAM, carver, opts)
		if err != nil {
			k.log.Error("load failed", zap.String("app", bin.Name), zap.Error(err))
			continue
		}
		// Load-time region precheck: a process whose layout the protection
		// unit cannot express must fail here, not at its first run.
		set, err := mpu.Layout(p.Flash, p.RAM, p.Grants.Watermark(), constraints)
		if err != nil {
			k.log.Error("region layout impossible, skipping app",
				zap.String("app", bin.Name), zap.Error(err))
			continue
		}
		p.Regions = set
		p.Policy = k.policy()
		if _, err := k.table.Insert(p); err != nil {
			k.log.Error("process table insert failed", zap.String("app", bin.Name), zap.Error(err))
			continue
		}
		k.log.Info("process loaded",
			zap.Int("pid", p.ID),
			zap.String("name", p.Name),
			zap.String("instance", p.Instance.String()),
			zap.Stringer("flash", p.Flash),
			zap.Stringer("ram", p.RAM),
		)
	}

	k.table.Seal()
	k.registry.Seal()
	if k.metrics != nil {
		k.metrics.ProcessesLoaded.Set(float64(k.table.Len()))
	}

	k.sched = sched.New(sched.Config{
		Table:      k.table,
		CPU:        k.hw.CPU,
		MPU:        k.hw.MPU,
		Interrupts: k.hw.Interrupts,
		Registry:   k.registry,
		Dispatcher: syscall.NewDispatcher(k.registry, k.log.Named("syscall"), k.metrics),
		Faults:     k.faults,
		Log:        k.log.Named("sched"),
		Metrics:    k.metrics,
		Budget:     k.board.Scheduler.Budget,
	})
	return nil
}

// Run drives the scheduler loop until the context is cancelled or every
// process is terminal with no interrupts pending. The kernel lock is held
// across each activation and released between them, which is where
// control and inspection surfaces get their turn.
func (k *Kernel) Run(ctx context.Context) error {
	if k.sched == nil {
		return fmt.Errorf("kernel not booted")
	}
	k.log.Info("kernel running",
		zap.String("boot_id", k.BootID.String()),
		zap.Int("processes", k.table.Len()),
		zap.Int("drivers", k.registry.Len()),
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		k.mu.Lock()
		ran := k.sched.RunOnce()
		idle := !ran && k.sched.AllTerminal()
		k.mu.Unlock()
		if k.metrics != nil {
			k.metrics.Tick()
		}
		if idle && !k.idleLogged {
			// Terminal processes can still be restarted through the control
			// surface, so the kernel parks rather than exits.
			k.log.Info("all processes terminal, kernel idle")
			k.idleLogged = true
		}
		if !ran {
			// Wait-for-interrupt stand-in.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		} else {
			k.idleLogged = false
		}
	}
}

// Scheduler exposes the scheduler for single-step tests and tooling.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// RestartProcess restarts a process by index on behalf of an external
// control surface. Restarting a process that never stopped is refused.
func (k *Kernel) RestartProcess(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.table.Get(pid)
	if !ok {
		return fmt.Errorf("no process %d", pid)
	}
	if !p.State.Terminal() {
		return fmt.Errorf("process %d is %s, not restartable", pid, p.State)
	}
	k.faults.Restart(p)
	return nil
}

// StopProcess stops a process by index on behalf of an external control
// surface.
func (k *Kernel) StopProcess(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.table.Get(pid)
	if !ok {
		return fmt.Errorf("no process %d", pid)
	}
	p.State = process.Stopped
	return nil
}

// ProcessInfo is the inspection view of one process slot.
type ProcessInfo struct {
	PID            int    `json:"pid"`
	Name           string `json:"name"`
	Instance       string `json:"instance"`
	State          string `json:"state"`
	Faults         int    `json:"faults"`
	Restarts       int    `json:"restarts"`
	ExitCode       uint32 `json:"exit_code"`
	FlashBase      uint32 `json:"flash_base"`
	FlashSize      uint32 `json:"flash_size"`
	RAMBase        uint32 `json:"ram_base"`
	RAMSize        uint32 `json:"ram_size"`
	Brk            uint32 `json:"brk"`
	GrantWatermark uint32 `json:"grant_watermark"`
	GrantSlots     int    `json:"grant_slots"`
	PendingUpcalls int    `json:"pending_upcalls"`
	Policy         string `json:"policy"`
}

// Processes returns the inspection view of every slot, in index order.
func (k *Kernel) Processes() []ProcessInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]ProcessInfo, 0, k.table.Len())
	k.table.ForEach(func(p *process.Process) {
		out = append(out, infoFor(p))
	})
	return out
}

// Process returns the inspection view of one slot.
func (k *Kernel) Process(pid int) (ProcessInfo, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.table.Get(pid)
	if !ok {
		return ProcessInfo{}, false
	}
	return infoFor(p), true
}

func infoFor(p *process.Process) ProcessInfo {
	policy := "none"
	if p.Policy != nil {
		policy = p.Policy.String()
	}
	return ProcessInfo{
		PID:            p.ID,
		Name:           p.Name,
		Instance:       p.Instance.String(),
		State:          p.State.String(),
		Faults:         p.Faults,
		Restarts:       p.Restarts,
		ExitCode:       p.ExitCode,
		FlashBase:      p.Flash.Base,
		FlashSize:      p.Flash.Size,
		RAMBase:        p.RAM.Base,
		RAMSize:        p.RAM.Size,
		Brk:            p.Brk,
		GrantWatermark: p.Grants.Watermark(),
		GrantSlots:     p.Grants.Slots(),
		PendingUpcalls: p.Upcalls.Len(),
		Policy:         policy,
	}
}

func (k *Kernel) policy() process.RestartPolicy {
	switch k.board.Policy.Restart {
	case "always":
		return fault.AlwaysRestart{}
	case "upto":
		return fault.RestartUpToN{N: k.board.Policy.MaxRestarts}
	default:
		return fault.StopOnFault{}
	}
}
