package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/platform"
)

func TestResumeRecordsUpcallDeliveries(t *testing.T) {
	cpu := NewCPU(nil)
	flash := platform.Extent{Base: 0x40000, Size: 0x1000}
	entry := uint32(0x40040)
	prog := &Program{Hang: true}
	cpu.Install(flash, entry, prog)

	regs := abi.RegisterFile{PC: entry, SP: 0x20004800}
	_, err := cpu.Resume(regs, platform.ResumeOrdinary)
	require.NoError(t, err)
	assert.Empty(t, prog.Deliveries, "ordinary resume is not a delivery")

	// A callback registered at the entry point still counts: the kernel
	// said this resume enters an upcall, the address proves nothing.
	regs.R0, regs.R1, regs.R2, regs.R3 = 1, 2, 3, 0xCAFE
	_, err = cpu.Resume(regs, platform.ResumeUpcall)
	require.NoError(t, err)
	require.Len(t, prog.Deliveries, 1)
	assert.Equal(t, entry, prog.Deliveries[0].PC)
	assert.Equal(t, [3]uint32{1, 2, 3}, prog.Deliveries[0].Args)
	assert.Equal(t, uint32(0xCAFE), prog.Deliveries[0].UserData)
}

func TestResumeOutsideInstalledFlashFaults(t *testing.T) {
	cpu := NewCPU(nil)
	trap, err := cpu.Resume(abi.RegisterFile{PC: 0x1234}, platform.ResumeOrdinary)
	require.NoError(t, err)
	assert.Equal(t, platform.TrapFault, trap.Reason)
	assert.Equal(t, uint32(0x1234), trap.FaultAddr)
}
