package main

import (
	"fmt"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/loader"
	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/platform/sim"
)

// installDemo encodes the two built-in demo applications into app flash and
// attaches their scripts. blink writes to the console and re-arms an alarm;
// probe prints through the debug capsule and polls the tick counter.
func installDemo(flash *sim.Mem, appFlash platform.Extent, cpu *sim.CPU) error {
	blinkMsg := []byte("blink: tick\n")
	probeMsg := []byte("probe: alive\n")

	var image []byte
	for _, params := range []loader.ImageParams{
		{Name: "blink", Text: blinkMsg, BSSSize: 64, WithDigest: true},
		{Name: "probe", Text: probeMsg, BSSSize: 64, WithDigest: true},
	} {
		img, err := loader.EncodeImage(params)
		if err != nil {
			return fmt.Errorf("encode %s: %w", params.Name, err)
		}
		image = append(image, img...)
	}
	if err := flash.Write(appFlash.Base, image); err != nil {
		return err
	}

	bins, err := loader.Discover(flash, appFlash)
	if err != nil {
		return err
	}
	for _, bin := range bins {
		entry := bin.Entry()
		var prog *sim.Program
		switch bin.Name {
		case "blink":
			prog = &sim.Program{
				Hang: true,
				Steps: []sim.Step{
					sim.Syscall(abi.ClassSubscribe, capsule.DriverConsole, capsule.ConsoleSubWriteDone, entry, 0),
					sim.Syscall(abi.ClassReadOnlyAllow, capsule.DriverConsole, capsule.ConsoleAllowWrite, entry, uint32(len(blinkMsg))),
					sim.Syscall(abi.ClassCommand, capsule.DriverConsole, capsule.ConsoleCmdWrite, uint32(len(blinkMsg))),
					sim.Syscall(abi.ClassSubscribe, capsule.DriverAlarm, capsule.AlarmSubExpired, entry, 0),
					sim.Syscall(abi.ClassCommand, capsule.DriverAlarm, capsule.AlarmCmdSet, 50),
					sim.Syscall(abi.ClassYield, abi.YieldWait),
				},
			}
		case "probe":
			prog = &sim.Program{
				Hang: true,
				Steps: []sim.Step{
					sim.Syscall(abi.ClassReadOnlyAllow, capsule.DriverDebug, capsule.DebugAllowPrint, entry, uint32(len(probeMsg))),
					sim.Syscall(abi.ClassCommand, capsule.DriverDebug, capsule.DebugCmdPrint, uint32(len(probeMsg))),
					sim.Syscall(abi.ClassCommand, capsule.DriverAlarm, capsule.AlarmCmdTicks),
					sim.Syscall(abi.ClassYield, abi.YieldWait),
				},
			}
		default:
			prog = eventLoopProgram()
		}
		cpu.Install(bin.Flash, entry, prog)
	}
	return nil
}

// eventLoopProgram is the generic script attached to images the simulator
// knows nothing about: yield and wait for events, forever.
func eventLoopProgram() *sim.Program {
	return &sim.Program{Hang: true}
}
