package mpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kestrel/internal/platform"
)

var testConstraints = Constraints{MaxRegions: 8, MinRegionSize: 32}

func TestLayoutBasic(t *testing.T) {
	flash := platform.Extent{Base: 0x40000, Size: 0x400}
	ram := platform.Extent{Base: 0x20004000, Size: 0x2000}

	set, err := Layout(flash, ram, ram.Base+0x1000, testConstraints)
	require.NoError(t, err)
	assert.Equal(t, ram.Base+0x1000, set.Watermark)

	var flashCovered, writable, guard uint32
	for _, r := range set.Regions {
		switch r.Perms {
		case platform.PermReadExec:
			flashCovered += r.Size
		case platform.PermReadWrite:
			writable += r.Size
		case platform.PermNone:
			guard += r.Size
		}
	}
	assert.Equal(t, flash.Size, flashCovered)
	assert.Equal(t, uint32(0x1000), writable)
	assert.Equal(t, uint32(0x1000), guard)
}

func TestLayoutWritableNeverReachesWatermark(t *testing.T) {
	flash := platform.Extent{Base: 0x40000, Size: 0x400}
	ram := platform.Extent{Base: 0x20004000, Size: 0x2000}

	// Watermark off the minimum alignment: the writable partition must be
	// rounded down, never up into the grant arena.
	wm := ram.Base + 0x1010
	set, err := Layout(flash, ram, wm, testConstraints)
	require.NoError(t, err)
	for _, r := range set.Regions {
		if r.Perms == platform.PermReadWrite {
			assert.LessOrEqual(t, r.End(), wm)
		}
	}
}

func TestLayoutWatermarkAtBase(t *testing.T) {
	flash := platform.Extent{Base: 0x40000, Size: 0x400}
	ram := platform.Extent{Base: 0x20004000, Size: 0x2000}

	// Grant arena swallowed all of RAM: no writable region at all.
	set, err := Layout(flash, ram, ram.Base, testConstraints)
	require.NoError(t, err)
	for _, r := range set.Regions {
		assert.NotEqual(t, platform.PermReadWrite, r.Perms)
	}
}

func TestLayoutWatermarkOutsideRAM(t *testing.T) {
	flash := platform.Extent{Base: 0x40000, Size: 0x400}
	ram := platform.Extent{Base: 0x20004000, Size: 0x2000}

	_, err := Layout(flash, ram, ram.Base-4, testConstraints)
	var le *LayoutError
	require.ErrorAs(t, err, &le)
}

func TestLayoutRegionBudgetExceeded(t *testing.T) {
	// A span needing many power-of-two chunks with only two regions to
	// spend must fail with a load-time layout error, not a partial set.
	flash := platform.Extent{Base: 0x40000, Size: 0x400}
	ram := platform.Extent{Base: 0x20004000, Size: 0x1F00}

	_, err := Layout(flash, ram, ram.End(), Constraints{MaxRegions: 2, MinRegionSize: 32})
	var le *LayoutError
	require.ErrorAs(t, err, &le)
}

func TestLayoutMisalignedSpan(t *testing.T) {
	flash := platform.Extent{Base: 0x40010, Size: 0x3F0}
	ram := platform.Extent{Base: 0x20004000, Size: 0x2000}

	_, err := Layout(flash, ram, ram.End(), testConstraints)
	var le *LayoutError
	require.ErrorAs(t, err, &le)
}

func TestLayoutRegionsSelfAligned(t *testing.T) {
	flash := platform.Extent{Base: 0x40000, Size: 0x1180}
	ram := platform.Extent{Base: 0x20004000, Size: 0x2000}

	set, err := Layout(flash, ram, ram.Base+0x1800, Constraints{MaxRegions: 16, MinRegionSize: 32})
	require.NoError(t, err)
	for _, r := range set.Regions {
		assert.Zero(t, r.Size&(r.Size-1), "size %#x not a power of two", r.Size)
		assert.Zero(t, r.Base%r.Size, "base %#x not aligned to size %#x", r.Base, r.Size)
	}
}

func TestLayoutRandomizedNoOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		flashSize := (rng.Uint32()%64 + 1) * 32
		ramSize := (rng.Uint32()%128 + 1) * 32
		flash := platform.Extent{Base: 0x40000, Size: flashSize}
		ram := platform.Extent{Base: 0x20004000, Size: ramSize}
		wm := ram.Base + rng.Uint32()%(ramSize+1)

		set, err := Layout(flash, ram, wm, Constraints{MaxRegions: 16, MinRegionSize: 32})
		if err != nil {
			continue
		}
		for a := 0; a < len(set.Regions); a++ {
			for b := a + 1; b < len(set.Regions); b++ {
				assert.False(t, set.Regions[a].Overlaps(set.Regions[b].Extent),
					"regions %v and %v overlap", set.Regions[a], set.Regions[b])
			}
		}
	}
}

func TestDecomposeCoversExactly(t *testing.T) {
	chunks, err := decompose(0x20004000, 0x20005F00, 32)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	at := uint32(0x20004000)
	for _, c := range chunks {
		if c.Base != at {
			t.Fatalf("gap before chunk at %#x, expected %#x", c.Base, at)
		}
		at = c.End()
	}
	if at != 0x20005F00 {
		t.Fatalf("coverage ends at %#x, want %#x", at, 0x20005F00)
	}
}
