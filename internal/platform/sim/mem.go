package sim

import (
	"fmt"

	"github.com/kestrel-os/kestrel/internal/platform"
)

// Mem is byte-array storage with a fixed base address.
type Mem struct {
	base uint32
	data []byte
}

// NewMem allocates size bytes of zeroed storage based at base.
func NewMem(base, size uint32) *Mem {
	return &Mem{base: base, data: make([]byte, size)}
}

// NewMemFrom creates storage based at base initialized with a copy of data.
func NewMemFrom(base uint32, data []byte) *Mem {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Mem{base: base, data: buf}
}

// Extent returns the address range the storage occupies.
func (m *Mem) Extent() platform.Extent {
	return platform.Extent{Base: m.base, Size: uint32(len(m.data))}
}

// Read copies length bytes starting at addr.
func (m *Mem) Read(addr, length uint32) ([]byte, error) {
	if !m.Extent().ContainsRange(addr, length) {
		return nil, fmt.Errorf("read %#x+%d outside %s", addr, length, m.Extent())
	}
	off := addr - m.base
	out := make([]byte, length)
	copy(out, m.data[off:off+length])
	return out, nil
}

// Write copies b starting at addr.
func (m *Mem) Write(addr uint32, b []byte) error {
	if !m.Extent().ContainsRange(addr, uint32(len(b))) {
		return fmt.Errorf("write %#x+%d outside %s", addr, len(b), m.Extent())
	}
	copy(m.data[addr-m.base:], b)
	return nil
}
