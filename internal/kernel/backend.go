package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/grant"
	"github.com/kestrel-os/kestrel/internal/process"
)

// The kernel is the capsule backend: capsules reach process state only
// through these methods, always by process index, never by pointer.

// EnqueueUpcall implements capsule.Backend.
func (k *Kernel) EnqueueUpcall(pid int, up abi.Upcall) bool {
	p, ok := k.table.Get(pid)
	if !ok || p.State.Terminal() {
		return false
	}
	if !p.Upcalls.Enqueue(up) {
		if k.metrics != nil {
			k.metrics.UpcallsDropped.Inc()
		}
		k.log.Warn("upcall queue full, event dropped",
			zap.Int("pid", pid),
			zap.Uint32("driver", up.DriverID),
			zap.Uint32("subscribe", up.SubscribeID),
		)
		return false
	}
	if k.metrics != nil {
		k.metrics.UpcallsQueued.Inc()
	}
	return true
}

// AllocateGrant implements capsule.Backend.
func (k *Kernel) AllocateGrant(pid int, driverID, size, align uint32) (grant.Slot, error) {
	p, ok := k.table.Get(pid)
	if !ok {
		return grant.Slot{}, fmt.Errorf("no process %d", pid)
	}
	slot, err := p.Grants.Allocate(driverID, size, align)
	if err != nil {
		return grant.Slot{}, err
	}
	if k.metrics != nil {
		k.metrics.GrantBytes.WithLabelValues(fmt.Sprintf("%d", pid)).
			Set(float64(p.RAM.End() - p.Grants.Watermark()))
	}
	return slot, nil
}

// AllowedBuffer implements capsule.Backend.
func (k *Kernel) AllowedBuffer(pid int, driverID, allowID uint32, readOnly bool) (process.Buffer, bool) {
	p, ok := k.table.Get(pid)
	if !ok {
		return process.Buffer{}, false
	}
	buf, ok := p.Allows[process.AllowKey{Driver: driverID, Allow: allowID, ReadOnly: readOnly}]
	return buf, ok
}

// ReadAppMemory implements capsule.Backend. Buffer bounds were checked
// at allow time; here the handle is only routed to the backing store.
func (k *Kernel) ReadAppMemory(pid int, buf process.Buffer) ([]byte, error) {
	if _, ok := k.table.Get(pid); !ok {
		return nil, fmt.Errorf("no process %d", pid)
	}
	if k.hw.RAM.Extent().ContainsRange(buf.Ptr, buf.Size) {
		return k.hw.RAM.Read(buf.Ptr, buf.Size)
	}
	return k.hw.Flash.Read(buf.Ptr, buf.Size)
}

// WriteAppMemory implements capsule.Backend.
func (k *Kernel) WriteAppMemory(pid int, buf process.Buffer, b []byte) error {
	if _, ok := k.table.Get(pid); !ok {
		return fmt.Errorf("no process %d", pid)
	}
	if uint32(len(b)) > buf.Size {
		return fmt.Errorf("write of %d bytes exceeds shared buffer %d", len(b), buf.Size)
	}
	return k.hw.RAM.Write(buf.Ptr, b)
}
