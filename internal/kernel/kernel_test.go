package kernel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/infrastructure/config"
	"github.com/kestrel-os/kestrel/internal/loader"
	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/platform/sim"
)

type board struct {
	kernel  *Kernel
	cpu     *sim.CPU
	intc    *sim.Controller
	clock   *sim.Clock
	alarm   *capsule.Alarm
	console *capsule.Console
	sink    *bytes.Buffer
	bins    []loader.Binary
}

// bootBoard assembles a full simulated board with the given images and
// scripts keyed by image name. Every capsule of the reference board is
// registered; the alarm is bound to interrupt line 0.
func bootBoard(t *testing.T, images []loader.ImageParams, scripts map[string]*sim.Program) *board {
	t.Helper()
	cfg := config.DefaultBoard()

	flashEnd := cfg.Flash.AppBase + cfg.Flash.AppSize
	flash := sim.NewMem(cfg.Flash.KernelBase, flashEnd-cfg.Flash.KernelBase)
	ram := sim.NewMem(cfg.RAM.AppBase, cfg.RAM.AppSize)
	intc := sim.NewController()
	cpu := sim.NewCPU(intc)
	clock := sim.NewClock(0)

	addr := cfg.Flash.AppBase
	for _, params := range images {
		img, err := loader.EncodeImage(params)
		require.NoError(t, err)
		require.NoError(t, flash.Write(addr, img))
		addr += uint32(len(img))
	}

	appFlash := platform.Extent{Base: cfg.Flash.AppBase, Size: cfg.Flash.AppSize}
	bins, err := loader.Discover(flash, appFlash)
	require.NoError(t, err)
	for _, bin := range bins {
		prog, ok := scripts[bin.Name]
		if !ok {
			prog = &sim.Program{Hang: true}
		}
		cpu.Install(bin.Flash, bin.Entry(), prog)
	}

	k := New(cfg, Hardware{
		CPU:        cpu,
		MPU:        sim.NewMPU(8, 32),
		Interrupts: intc,
		Flash:      flash,
		RAM:        ram,
	}, nil, zap.NewNop(), nil)

	sink := &bytes.Buffer{}
	console := capsule.NewConsole(k, sink, zap.NewNop())
	alarm := capsule.NewAlarm(k, clock)
	require.NoError(t, k.Registry().Register(capsule.DriverAlarm, alarm))
	require.NoError(t, k.Registry().Register(capsule.DriverConsole, console))
	require.NoError(t, k.Registry().BindInterrupt(0, capsule.DriverAlarm))

	require.NoError(t, k.Boot())
	return &board{
		kernel: k, cpu: cpu, intc: intc, clock: clock,
		alarm: alarm, console: console, sink: sink, bins: bins,
	}
}

func (b *board) drain(limit int) {
	for i := 0; i < limit; i++ {
		if !b.kernel.Scheduler().RunOnce() {
			return
		}
	}
}

func TestBootLoadsDiscoveredImages(t *testing.T) {
	b := bootBoard(t, []loader.ImageParams{
		{Name: "one", Text: []byte("x"), WithDigest: true},
		{Name: "two", Text: []byte("y"), WithDigest: true},
	}, nil)

	infos := b.kernel.Processes()
	require.Len(t, infos, 2)
	assert.Equal(t, "one", infos[0].Name)
	assert.Equal(t, "two", infos[1].Name)
	assert.Equal(t, "unstarted", infos[0].State)
	assert.Equal(t, 0, infos[0].PID)
	assert.Equal(t, 1, infos[1].PID)
	assert.NotEqual(t, infos[0].RAMBase, infos[1].RAMBase)
}

func TestAlarmUpcallReachesOnlyItsOwner(t *testing.T) {
	images := []loader.ImageParams{
		{Name: "patient", Text: []byte("p")},
		{Name: "eager", Text: []byte("e")},
	}

	// Entries depend on load addresses; discover once on a scratch board to
	// compute them, then boot the real one with matching scripts.
	scratch := bootBoard(t, images, nil)
	entries := map[string]uint32{}
	for _, bin := range scratch.bins {
		entries[bin.Name] = bin.Entry()
	}

	scripts := map[string]*sim.Program{
		"patient": {Hang: true, Steps: []sim.Step{
			sim.Syscall(abi.ClassSubscribe, capsule.DriverAlarm, capsule.AlarmSubExpired, entries["patient"], 0xA0),
			sim.Syscall(abi.ClassCommand, capsule.DriverAlarm, capsule.AlarmCmdSet, 1000),
			sim.Syscall(abi.ClassYield, abi.YieldWait),
		}},
		"eager": {Hang: true, Steps: []sim.Step{
			sim.Syscall(abi.ClassSubscribe, capsule.DriverAlarm, capsule.AlarmSubExpired, entries["eager"], 0xB1),
			sim.Syscall(abi.ClassCommand, capsule.DriverAlarm, capsule.AlarmCmdSet, 10),
			sim.Syscall(abi.ClassYield, abi.YieldWait),
		}},
	}
	b := bootBoard(t, images, scripts)
	b.drain(30)

	// Both blocked on their alarms; the tick source fires one of them.
	b.clock.Advance(20)
	b.intc.Raise(0)
	b.drain(30)

	require.Len(t, scripts["eager"].Deliveries, 1, "exactly one delivery")
	d := scripts["eager"].Deliveries[0]
	assert.Equal(t, entries["eager"], d.PC)
	assert.Equal(t, uint32(20), d.Args[0], "tick count at expiry")
	assert.Equal(t, uint32(10), d.Args[1], "programmed expiry tick")
	assert.Equal(t, uint32(0xB1), d.UserData)

	assert.Empty(t, scripts["patient"].Deliveries, "neighbor's alarm has not expired")
}

func TestConsoleWriteEndToEnd(t *testing.T) {
	images := []loader.ImageParams{{Name: "talker", Text: []byte("hello, board\n")}}
	scratch := bootBoard(t, images, nil)
	entry := scratch.bins[0].Entry()
	msgLen := uint32(len("hello, board\n"))

	script := &sim.Program{Hang: true, Steps: []sim.Step{
		sim.Syscall(abi.ClassSubscribe, capsule.DriverConsole, capsule.ConsoleSubWriteDone, entry, 0),
		// The message is the program text itself, shared read-only out of
		// flash.
		sim.Syscall(abi.ClassReadOnlyAllow, capsule.DriverConsole, capsule.ConsoleAllowWrite, entry, msgLen),
		sim.Syscall(abi.ClassCommand, capsule.DriverConsole, capsule.ConsoleCmdWrite, msgLen),
		sim.Syscall(abi.ClassYield, abi.YieldWait),
	}}
	b := bootBoard(t, images, map[string]*sim.Program{"talker": script})
	b.drain(30)

	assert.Equal(t, "hello, board\n", b.sink.String())
	require.Len(t, script.Deliveries, 1, "write-done upcall delivered")
	assert.Equal(t, msgLen, script.Deliveries[0].Args[0])
}

func TestStopAndRestartControls(t *testing.T) {
	images := []loader.ImageParams{{Name: "runner", Text: []byte("r")}}
	b := bootBoard(t, images, map[string]*sim.Program{
		"runner": {Hang: true},
	})
	b.drain(10)

	assert.Error(t, b.kernel.RestartProcess(0), "running process is not restartable")
	require.NoError(t, b.kernel.StopProcess(0))
	info, ok := b.kernel.Process(0)
	require.True(t, ok)
	assert.Equal(t, "stopped", info.State)

	require.NoError(t, b.kernel.RestartProcess(0))
	info, _ = b.kernel.Process(0)
	assert.Equal(t, "unstarted", info.State)
	assert.Equal(t, 1, info.Restarts)

	assert.Error(t, b.kernel.StopProcess(9), "no such process")
	assert.Error(t, b.kernel.RestartProcess(9))
}

func TestFaultedProcessLeavesNeighborAlone(t *testing.T) {
	images := []loader.ImageParams{
		{Name: "crasher", Text: []byte("c")},
		{Name: "steady", Text: []byte("s")},
	}
	b := bootBoard(t, images, map[string]*sim.Program{
		"crasher": {Steps: []sim.Step{
			sim.BadAccess(0xDEADBEEF),
			sim.BadAccess(0xDEADBEEF),
			sim.BadAccess(0xDEADBEEF),
			sim.BadAccess(0xDEADBEEF),
		}},
		"steady": {Hang: true},
	})
	b.drain(40)

	crasher, _ := b.kernel.Process(0)
	steady, ok := b.kernel.Process(1)
	require.True(t, ok)

	// Default policy restarts up to three times, then stops.
	assert.Equal(t, "stopped", crasher.State)
	assert.Equal(t, 4, crasher.Faults)
	assert.Equal(t, 3, crasher.Restarts)
	assert.NotEqual(t, "stopped", steady.State)
	assert.Zero(t, steady.Faults)
}

func TestGrantAllocationMovesWatermark(t *testing.T) {
	images := []loader.ImageParams{{Name: "g", Text: []byte("g")}}
	b := bootBoard(t, images, map[string]*sim.Program{"g": {Hang: true}})
	b.drain(5)

	p, ok := b.kernel.Table().Get(0)
	require.True(t, ok)
	before := p.Grants.Watermark()

	slot, err := b.kernel.AllocateGrant(0, capsule.DriverAlarm, 64, 8)
	require.NoError(t, err)
	assert.Less(t, slot.Ptr, before)
	assert.True(t, p.RegionsStale(), "watermark move invalidates the region set")

	// Next activation recomputes and reinstalls the regions.
	b.drain(5)
	assert.False(t, p.RegionsStale())
}

func TestUpcallToTerminalProcessRefused(t *testing.T) {
	images := []loader.ImageParams{{Name: "dead", Text: []byte("d")}}
	b := bootBoard(t, images, map[string]*sim.Program{
		"dead": {Steps: []sim.Step{sim.Syscall(abi.ClassExit, abi.ExitTerminate, 0)}},
	})
	b.drain(10)

	info, _ := b.kernel.Process(0)
	require.Equal(t, "stopped", info.State)
	assert.False(t, b.kernel.EnqueueUpcall(0, abi.Upcall{DriverID: capsule.DriverAlarm}))
}

func TestBootRejectsOverlappingRanges(t *testing.T) {
	cfg := config.DefaultBoard()
	cfg.Flash.AppBase = cfg.Flash.KernelBase + cfg.Flash.KernelSize/2

	flash := sim.NewMem(cfg.Flash.KernelBase, cfg.Flash.AppBase+cfg.Flash.AppSize-cfg.Flash.KernelBase)
	ram := sim.NewMem(cfg.RAM.AppBase, cfg.RAM.AppSize)
	k := New(cfg, Hardware{
		CPU:        sim.NewCPU(nil),
		MPU:        sim.NewMPU(8, 32),
		Interrupts: sim.NewController(),
		Flash:      flash,
		RAM:        ram,
	}, nil, zap.NewNop(), nil)
	assert.Error(t, k.Boot())
}

func TestProcessInfoFields(t *testing.T) {
	images := []loader.ImageParams{{Name: "info", Text: []byte("i"), WithDigest: true}}
	b := bootBoard(t, images, nil)

	info, ok := b.kernel.Process(0)
	require.True(t, ok)
	assert.Equal(t, "info", info.Name)
	assert.NotEmpty(t, info.Instance)
	assert.NotZero(t, info.FlashBase)
	assert.NotZero(t, info.RAMSize)
	assert.Equal(t, "restart-up-to-3", info.Policy)
}
