package mpu

import (
	"fmt"
	"math/bits"

	"github.com/kestrel-os/kestrel/internal/platform"
)

// Constraints captures what the underlying protection unit can express.
type Constraints struct {
	// MaxRegions is the hardware region count available for one process.
	MaxRegions int
	// MinRegionSize is the smallest representable region length; region
	// lengths are powers of two and bases are aligned to their length.
	MinRegionSize uint32
}

// FromHardware reads constraints off an MPU implementation.
func FromHardware(m platform.MPU) Constraints {
	return Constraints{MaxRegions: m.NumRegions(), MinRegionSize: m.MinRegionSize()}
}

// LayoutError reports that a process's memory cannot be expressed within the
// protection unit's region count and alignment rules. This is a load-time
// hard failure: the process is never started.
type LayoutError struct {
	Flash  platform.Extent
	RAM    platform.Extent
	Reason string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("region layout for flash %s ram %s: %s", e.Flash, e.RAM, e.Reason)
}

// Set is an ordered protection region set plus the grant watermark it was
// computed for, so callers can tell when a recompute is due.
type Set struct {
	Regions   []platform.Region
	Watermark uint32
}

// Layout computes the region set for one process: its flash as read-execute,
// the RAM below the grant watermark as read-write, and the remaining RAM
// tail, which holds the grant arena, as an explicit no-access guard. The
// writable partition's upper edge is rounded down to the minimum region
// size; the handful of bytes lost sit in the unallocated gap below the
// watermark and are never part of a grant.
func Layout(flash, ram platform.Extent, watermark uint32, c Constraints) (Set, error) {
	if c.MaxRegions <= 0 || c.MinRegionSize == 0 || bits.OnesCount32(c.MinRegionSize) != 1 {
		return Set{}, &LayoutError{Flash: flash, RAM: ram, Reason: "invalid hardware constraints"}
	}
	if watermark < ram.Base || watermark > ram.End() {
		return Set{}, &LayoutError{Flash: flash, RAM: ram,
			Reason: fmt.Sprintf("watermark %#x outside ram", watermark)}
	}

	budget := c.MaxRegions
	var regions []platform.Region

	add := func(base, end uint32, perms platform.Perm, what string) error {
		chunk, err := decompose(base, end, c.MinRegionSize)
		if err != nil {
			return &LayoutError{Flash: flash, RAM: ram, Reason: what + ": " + err.Error()}
		}
		if len(chunk) > budget {
			return &LayoutError{Flash: flash, RAM: ram,
				Reason: fmt.Sprintf("%s needs %d regions, %d available", what, len(chunk), budget)}
		}
		budget -= len(chunk)
		for _, e := range chunk {
			regions = append(regions, platform.Region{Extent: e, Perms: perms})
		}
		return nil
	}

	if err := add(flash.Base, flash.End(), platform.PermReadExec, "flash"); err != nil {
		return Set{}, err
	}

	writableEnd := alignDown(watermark, c.MinRegionSize)
	if writableEnd > ram.Base {
		if err := add(ram.Base, writableEnd, platform.PermReadWrite, "ram"); err != nil {
			return Set{}, err
		}
	}
	if writableEnd < ram.End() {
		guardBase := writableEnd
		if guardBase < ram.Base {
			guardBase = ram.Base
		}
		if err := add(guardBase, ram.End(), platform.PermNone, "guard"); err != nil {
			return Set{}, err
		}
	}

	return Set{Regions: regions, Watermark: watermark}, nil
}

// decompose covers [base, end) exactly with power-of-two regions, each
// aligned to its own length, largest-first. Both edges must sit on the
// minimum alignment.
func decompose(base, end, minSize uint32) ([]platform.Extent, error) {
	if end < base {
		return nil, fmt.Errorf("inverted span %#x..%#x", base, end)
	}
	if base%minSize != 0 || end%minSize != 0 {
		return nil, fmt.Errorf("span %#x..%#x not aligned to %d", base, end, minSize)
	}
	var out []platform.Extent
	for base < end {
		size := uint32(1) << bits.TrailingZeros32(base)
		if base == 0 {
			size = 1 << 31
		}
		for size > end-base {
			size >>= 1
		}
		out = append(out, platform.Extent{Base: base, Size: size})
		base += size
	}
	return out, nil
}

func alignDown(v, align uint32) uint32 {
	return v &^ (align - 1)
}
