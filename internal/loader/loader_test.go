package loader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/platform/sim"
)

const (
	appBase uint32 = 0x40000
	appSize uint32 = 0x10000
	ramBase uint32 = 0x20004000
	ramSize uint32 = 0x1C000
)

func appExtent() platform.Extent {
	return platform.Extent{Base: appBase, Size: appSize}
}

func flashWith(t *testing.T, images ...[]byte) *sim.Mem {
	t.Helper()
	flash := sim.NewMem(appBase, appSize)
	addr := appBase
	for _, img := range images {
		require.NoError(t, flash.Write(addr, img))
		addr += uint32(len(img))
	}
	return flash
}

func encode(t *testing.T, p ImageParams) []byte {
	t.Helper()
	img, err := EncodeImage(p)
	require.NoError(t, err)
	return img
}

func TestHeaderRoundTrip(t *testing.T) {
	raw, err := EncodeHeader(Header{
		Version:         HeaderVersion,
		HeaderSize:      FixedHeaderSize,
		TotalSize:       0x200,
		EntryOffset:     FixedHeaderSize,
		RelocDataOffset: 0x100,
		RelocDataSize:   0x40,
		BSSSize:         0x20,
		MinRAMSize:      0x1000,
		Flags:           FlagEnabled,
	})
	require.NoError(t, err)
	require.Len(t, raw, FixedHeaderSize)

	h, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), h.TotalSize)
	assert.Equal(t, uint32(0x40), h.RelocDataSize)
	assert.True(t, h.Enabled())
	assert.False(t, h.Sticky())
}

func TestParseHeaderRejectsCorruption(t *testing.T) {
	raw, err := EncodeHeader(Header{
		Version:     HeaderVersion,
		HeaderSize:  FixedHeaderSize,
		TotalSize:   0x100,
		EntryOffset: FixedHeaderSize,
		Flags:       FlagEnabled,
	})
	require.NoError(t, err)

	// Flip one bit in the total size; the checksum must catch it.
	raw[4] ^= 1
	_, err = ParseHeader(raw)
	assert.ErrorIs(t, err, ErrBadChecksum)

	raw[4] ^= 1
	binary.LittleEndian.PutUint16(raw, 9)
	_, err = ParseHeader(raw)
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = ParseHeader(raw[:10])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDiscoverWalksBackToBack(t *testing.T) {
	a := encode(t, ImageParams{Name: "alpha", Text: []byte("aaaa")})
	b := encode(t, ImageParams{Name: "beta", Text: []byte("bbbbbbbb")})
	flash := flashWith(t, a, b)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	require.Len(t, bins, 2)
	assert.Equal(t, "alpha", bins[0].Name)
	assert.Equal(t, "beta", bins[1].Name)
	assert.Equal(t, appBase, bins[0].Flash.Base)
	assert.Equal(t, appBase+uint32(len(a)), bins[1].Flash.Base)
	assert.Equal(t, bins[1].Flash.Base+bins[1].Header.EntryOffset, bins[1].Entry())
}

func TestDiscoverSkipsDisabled(t *testing.T) {
	a := encode(t, ImageParams{Name: "off", Text: []byte("xx"), Disabled: true})
	b := encode(t, ImageParams{Name: "on", Text: []byte("yy")})
	flash := flashWith(t, a, b)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	require.Len(t, bins, 1)
	assert.Equal(t, "on", bins[0].Name)
}

func TestDiscoverStopsAtErasedFlash(t *testing.T) {
	a := encode(t, ImageParams{Name: "only", Text: []byte("zz")})
	flash := flashWith(t, a)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	assert.Len(t, bins, 1)
}

func TestDiscoverStopsAtMalformedHeader(t *testing.T) {
	a := encode(t, ImageParams{Name: "good", Text: []byte("zz")})
	flash := flashWith(t, a)

	// Garbage with a nonzero version word but a zero TotalSize after the
	// valid image: no span to step over, so the walk returns what it found
	// plus an error, never a partial parse.
	garbage := make([]byte, FixedHeaderSize)
	garbage[0] = 2
	require.NoError(t, flash.Write(appBase+uint32(len(a)), garbage))

	bins, err := Discover(flash, appExtent())
	assert.Error(t, err)
	assert.Len(t, bins, 1)
}

func TestDiscoverStepsOverCorruptImage(t *testing.T) {
	a := encode(t, ImageParams{Name: "first", Text: []byte("aa")})
	b := encode(t, ImageParams{Name: "middle", Text: []byte("bb")})
	c := encode(t, ImageParams{Name: "last", Text: []byte("cc")})

	// Corrupt the middle image's entry offset: its checksum no longer
	// matches, but TotalSize still describes the span, so the walk recovers
	// the image behind it.
	b[8] ^= 0xFF
	flash := flashWith(t, a, b, c)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	require.Len(t, bins, 2)
	assert.Equal(t, "first", bins[0].Name)
	assert.Equal(t, "last", bins[1].Name)
	assert.Equal(t, appBase+uint32(len(a)+len(b)), bins[1].Flash.Base)
}

func TestEncodeImageEndsOnRegionBoundary(t *testing.T) {
	for _, p := range []ImageParams{
		{Name: "tiny", Text: []byte("x")},
		{Name: "blink", Text: []byte("blink: tick\n"), BSSSize: 64, WithDigest: true},
		{Name: "data", Text: []byte("tttt"), Data: []byte{1, 2, 3, 4, 5}},
	} {
		img := encode(t, p)
		assert.Zero(t, uint32(len(img))%RegionAlign, p.Name)

		h, err := ParseHeader(img)
		require.NoError(t, err)
		assert.Equal(t, uint32(len(img)), h.TotalSize, p.Name)
	}
}

func TestDiscoverRejectsImageBeyondRange(t *testing.T) {
	raw, err := EncodeHeader(Header{
		Version:     HeaderVersion,
		HeaderSize:  FixedHeaderSize,
		TotalSize:   appSize * 2,
		EntryOffset: FixedHeaderSize,
		Flags:       FlagEnabled,
	})
	require.NoError(t, err)
	flash := flashWith(t, raw)

	bins, err := Discover(flash, appExtent())
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Empty(t, bins)
}

func TestVerifyCredentials(t *testing.T) {
	img := encode(t, ImageParams{Name: "signed", Text: []byte("tttt"), WithDigest: true})
	flash := flashWith(t, img)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	require.Len(t, bins, 1)
	require.NoError(t, VerifyCredentials(flash, bins[0], true))

	// Corrupt one text byte: the digest no longer covers the image.
	require.NoError(t, flash.Write(appBase+uint32(bins[0].Header.EntryOffset), []byte("T")))
	assert.ErrorIs(t, VerifyCredentials(flash, bins[0], true), ErrCredentials)
}

func TestVerifyCredentialsMissingFooter(t *testing.T) {
	img := encode(t, ImageParams{Name: "bare", Text: []byte("tttt")})
	flash := flashWith(t, img)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	require.Len(t, bins, 1)

	assert.NoError(t, VerifyCredentials(flash, bins[0], false))
	assert.ErrorIs(t, VerifyCredentials(flash, bins[0], true), ErrCredentials)
}

func TestLoadLayout(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	img := encode(t, ImageParams{Name: "app", Text: []byte("text"), Data: data, BSSSize: 16})
	flash := flashWith(t, img)
	ram := sim.NewMem(ramBase, ramSize)

	// Dirty the words where the BSS partition will land so zeroing is
	// observable.
	dirty := make([]byte, 32)
	for i := range dirty {
		dirty[i] = 0xFF
	}
	require.NoError(t, ram.Write(ramBase+DefaultOptions().StackSize, dirty))

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	require.Len(t, bins, 1)

	opts := DefaultOptions()
	carver := NewRAMCarver(platform.Extent{Base: ramBase, Size: ramSize})
	p, err := Load(bins[0], flash, ram, carver, opts)
	require.NoError(t, err)

	assert.Equal(t, "app", p.Name)
	assert.Equal(t, bins[0].Entry(), p.Entry)
	assert.Equal(t, p.RAM.Base+opts.StackSize, p.StackTop)
	assert.Equal(t, p.StackTop, p.Regs.SP)
	assert.Equal(t, p.Entry, p.Regs.PC)

	// Relocation data copied right above the stack partition.
	got, err := ram.Read(p.StackTop, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// BSS zeroed, break above it, grant arena from break to block end.
	bss, err := ram.Read(p.StackTop+uint32(len(data)), 16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), bss)
	assert.Equal(t, p.StackTop+uint32(len(data))+16, p.Brk)
	assert.Equal(t, p.RAM.End(), p.Grants.Watermark())
	assert.Equal(t, p.RAM.Size, roundPow2(p.RAM.Size), "carved block is a power of two")
	assert.Zero(t, p.RAM.Base%p.RAM.Size, "carved block is self-aligned")
}

func TestLoadHonorsMinRAMRequest(t *testing.T) {
	img := encode(t, ImageParams{Name: "big", Text: []byte("t"), MinRAMSize: 0x5000})
	flash := flashWith(t, img)
	ram := sim.NewMem(ramBase, ramSize)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	carver := NewRAMCarver(platform.Extent{Base: ramBase, Size: ramSize})
	p, err := Load(bins[0], flash, ram, carver, DefaultOptions())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.RAM.Size, uint32(0x5000))
}

func TestLoadFailsWhenRAMExhausted(t *testing.T) {
	img := encode(t, ImageParams{Name: "greedy", Text: []byte("t"), MinRAMSize: 0x8000})
	flash := flashWith(t, img)
	ram := sim.NewMem(ramBase, 0x4000)

	bins, err := Discover(flash, appExtent())
	require.NoError(t, err)
	carver := NewRAMCarver(platform.Extent{Base: ramBase, Size: 0x4000})
	_, err = Load(bins[0], flash, ram, carver, DefaultOptions())
	assert.Error(t, err)
}

func TestRAMCarverBlocksDisjoint(t *testing.T) {
	carver := NewRAMCarver(platform.Extent{Base: ramBase, Size: ramSize})
	a, err := carver.Carve(0x3000)
	require.NoError(t, err)
	b, err := carver.Carve(0x1000)
	require.NoError(t, err)
	assert.False(t, a.Overlaps(b))
	assert.Equal(t, uint32(0x4000), a.Size)
}
