package loader

import (
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/kestrel-os/kestrel/internal/grant"
	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/process"
)

// Options tunes how discovered binaries become processes.
type Options struct {
	// StackSize is the application stack partition; the initial stack
	// pointer is the top of this partition.
	StackSize uint32
	// MinRAMSize is the floor for the carved RAM block; images may request
	// more through their header.
	MinRAMSize uint32
	// UpcallCapacity bounds each process's pending upcall queue.
	UpcallCapacity int
	// RequireCredentials makes a missing or unverifiable footer digest a
	// load failure.
	RequireCredentials bool
	// RegionAlign is the protection unit's minimum region size; the grant
	// watermark stays on this boundary.
	RegionAlign uint32
}

// DefaultOptions returns the reference board's load options.
func DefaultOptions() Options {
	return Options{
		StackSize:      2048,
		MinRAMSize:     8192,
		UpcallCapacity: 16,
		RegionAlign:    32,
	}
}

// RAMCarver hands out power-of-two, self-aligned RAM blocks from the
// application RAM range, so every block is expressible as a single
// protection region. Blocks are never returned; layout is fixed at boot.
type RAMCarver struct {
	next uint32
	end  uint32
}

// NewRAMCarver carves from the given application RAM range.
func NewRAMCarver(ram platform.Extent) *RAMCarver {
	return &RAMCarver{next: ram.Base, end: ram.End()}
}

// Carve reserves a block of at least size bytes, rounded up to a power of
// two and aligned to its own length.
func (c *RAMCarver) Carve(size uint32) (platform.Extent, error) {
	size = roundPow2(size)
	base := alignUp(c.next, size)
	if base+size > c.end || base+size < base {
		return platform.Extent{}, fmt.Errorf("app RAM exhausted: need %d bytes at %#x, end %#x", size, base, c.end)
	}
	c.next = base + size
	return platform.Extent{Base: base, Size: size}, nil
}

// Load turns a discovered binary into an Unstarted process: carves its RAM
// block, copies the relocation-data image out of flash into the data
// partition, zeroes the uninitialized-data partition, and builds the grant
// arena above the app break.
func Load(bin Binary, flash, ram platform.Memory, carver *RAMCarver, opts Options) (*process.Process, error) {
	h := bin.Header
	if err := VerifyCredentials(flash, bin, opts.RequireCredentials); err != nil {
		return nil, err
	}

	need := h.MinRAMSize
	if need < opts.MinRAMSize {
		need = opts.MinRAMSize
	}
	floor := opts.StackSize + h.RelocDataSize + h.BSSSize
	if need < floor {
		need = floor
	}
	block, err := carver.Carve(need)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", bin.Name, err)
	}

	stackTop := block.Base + opts.StackSize
	dataAddr := stackTop
	if h.RelocDataSize > 0 {
		if !bin.Flash.ContainsRange(bin.Flash.Base+h.RelocDataOffset, h.RelocDataSize) {
			return nil, fmt.Errorf("load %q: relocation descriptor outside image", bin.Name)
		}
		data, err := flash.Read(bin.Flash.Base+h.RelocDataOffset, h.RelocDataSize)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", bin.Name, err)
		}
		if err := ram.Write(dataAddr, data); err != nil {
			return nil, fmt.Errorf("load %q: %w", bin.Name, err)
		}
	}
	bssAddr := dataAddr + h.RelocDataSize
	if h.BSSSize > 0 {
		if err := ram.Write(bssAddr, make([]byte, h.BSSSize)); err != nil {
			return nil, fmt.Errorf("load %q: %w", bin.Name, err)
		}
	}
	brk := bssAddr + h.BSSSize

	p := &process.Process{
		Name:          bin.Name,
		Instance:      uuid.New(),
		Flash:         bin.Flash,
		Entry:         bin.Entry(),
		RAM:           block,
		StackTop:      stackTop,
		InitialBrk:    brk,
		Brk:           brk,
		Grants:        grant.NewArena(brk, block.End(), opts.RegionAlign),
		Upcalls:       process.NewUpcallQueue(opts.UpcallCapacity),
		Subscriptions: make(map[process.SubKey]process.Subscription),
		Allows:        make(map[process.AllowKey]process.Buffer),
	}
	p.PrepareFirstRun()
	return p, nil
}

func roundPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	if bits.OnesCount32(v) == 1 {
		return v
	}
	return 1 << (32 - bits.LeadingZeros32(v))
}
