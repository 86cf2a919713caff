package sim

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/kestrel-os/kestrel/internal/platform"
)

// MPU models a coarse region-based protection unit: a small fixed number of
// regions, each with a power-of-two length and a base aligned to that
// length. It records every configuration so tests can assert what a context
// switch would have installed into hardware.
type MPU struct {
	mu         sync.Mutex
	numRegions int
	minSize    uint32
	active     []platform.Region
	history    [][]platform.Region
}

// NewMPU creates an MPU model with the given region count and minimum
// region size. Pass 0 for the common defaults (8 regions, 32 bytes).
func NewMPU(numRegions int, minSize uint32) *MPU {
	if numRegions == 0 {
		numRegions = 8
	}
	if minSize == 0 {
		minSize = 32
	}
	return &MPU{numRegions: numRegions, minSize: minSize}
}

// NumRegions returns the hardware region count.
func (m *MPU) NumRegions() int { return m.numRegions }

// MinRegionSize returns the smallest representable region length.
func (m *MPU) MinRegionSize() uint32 { return m.minSize }

// Configure installs a region set, replacing the previous one.
func (m *MPU) Configure(regions []platform.Region) error {
	if len(regions) > m.numRegions {
		return fmt.Errorf("%d regions exceed hardware capacity %d", len(regions), m.numRegions)
	}
	for _, r := range regions {
		if err := m.check(r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append([]platform.Region(nil), regions...)
	m.history = append(m.history, m.active)
	return nil
}

// Clear removes all regions, denying every user-mode access.
func (m *MPU) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
}

// Active returns a copy of the currently installed region set.
func (m *MPU) Active() []platform.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]platform.Region(nil), m.active...)
}

// History returns every region set ever installed, oldest first.
func (m *MPU) History() [][]platform.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]platform.Region(nil), m.history...)
}

// Allows reports whether the active set permits the access. Write implies a
// store; otherwise a load or fetch depending on exec.
func (m *MPU) Allows(addr uint32, write, exec bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.active {
		if !r.Contains(addr) {
			continue
		}
		switch r.Perms {
		case platform.PermReadWrite:
			if !exec {
				return true
			}
		case platform.PermReadExec:
			if !write {
				return true
			}
		case platform.PermRead:
			if !write && !exec {
				return true
			}
		}
	}
	return false
}

func (m *MPU) check(r platform.Region) error {
	if r.Size < m.minSize {
		return fmt.Errorf("region %s smaller than minimum %d", r, m.minSize)
	}
	if bits.OnesCount32(r.Size) != 1 {
		return fmt.Errorf("region %s length not a power of two", r)
	}
	if r.Base%r.Size != 0 {
		return fmt.Errorf("region %s base not aligned to length", r)
	}
	return nil
}
