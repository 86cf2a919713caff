package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kestrel/internal/platform"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Attrs{
		KernelFlash: platform.Extent{Base: 0x0, Size: 0x20000},
		AppRAM:      platform.Extent{Base: 0x20004000, Size: 0x1C000},
		Version:     Version,
	}
	raw := Encode(in)
	assert.Equal(t, Sentinel[:], raw[len(raw)-4:], "sentinel terminates the block")

	out, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeSkipsUnknownTags(t *testing.T) {
	raw := Encode(Attrs{
		KernelFlash: platform.Extent{Base: 0, Size: 0x1000},
		AppRAM:      platform.Extent{Base: 0x20000000, Size: 0x1000},
		Version:     Version,
	})

	// Splice an unknown record before the sentinel.
	extra := []byte{0x7F, 2, 0xAA, 0xBB}
	spliced := append(append(append([]byte{}, raw[:len(raw)-4]...), extra...), Sentinel[:]...)

	out, err := Decode(spliced)
	require.NoError(t, err)
	assert.Equal(t, uint8(Version), out.Version)
	assert.Equal(t, uint32(0x1000), out.KernelFlash.Size)
}

func TestDecodeNoSentinel(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrNoSentinel)
	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrNoSentinel)
}

func TestDecodeTruncatedRecord(t *testing.T) {
	// A record claiming more bytes than remain before the sentinel.
	raw := append([]byte{TagKernelFlash, 8, 1, 2}, Sentinel[:]...)
	_, err := Decode(raw)
	assert.Error(t, err)
}
