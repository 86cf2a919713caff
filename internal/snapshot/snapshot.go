// Package snapshot writes postmortem process state to disk when a fault
// fires: a JSON document, gzip-compressed, named by the kernel boot UUID,
// process index, and fault ordinal. The dump captures everything an
// operator needs to reconstruct what the process saw; the kernel never
// reads these files back.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/process"
)

// Record is the serialized postmortem document.
type Record struct {
	BootID    string    `json:"boot_id"`
	Instance  string    `json:"instance"`
	Timestamp time.Time `json:"timestamp"`

	PID      int    `json:"pid"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Faults   int    `json:"faults"`
	Restarts int    `json:"restarts"`

	FaultKind string `json:"fault_kind"`
	FaultAddr uint32 `json:"fault_addr,omitempty"`

	Regs           abi.RegisterFile `json:"regs"`
	FlashBase      uint32           `json:"flash_base"`
	FlashSize      uint32           `json:"flash_size"`
	RAMBase        uint32           `json:"ram_base"`
	RAMSize        uint32           `json:"ram_size"`
	Brk            uint32           `json:"brk"`
	GrantWatermark uint32           `json:"grant_watermark"`
	GrantSlots     int              `json:"grant_slots"`
	PendingUpcalls int              `json:"pending_upcalls"`
}

// Writer persists records under one directory for one kernel boot.
type Writer struct {
	dir     string
	bootID  uuid.UUID
	enabled bool
}

// NewWriter creates a writer. A disabled writer swallows dumps silently,
// keeping fault handling identical on boards with no filesystem.
func NewWriter(dir string, bootID uuid.UUID, enabled bool) *Writer {
	return &Writer{dir: dir, bootID: bootID, enabled: enabled}
}

// SetBootID stamps the writer with the boot identity, assigned when the
// kernel is built after the writer already exists.
func (w *Writer) SetBootID(id uuid.UUID) { w.bootID = id }

// Dump writes one postmortem record for the faulted process.
func (w *Writer) Dump(p *process.Process, faultKind string, faultAddr uint32) error {
	if !w.enabled {
		return nil
	}
	rec := Record{
		BootID:         w.bootID.String(),
		Instance:       p.Instance.String(),
		Timestamp:      time.Now().UTC(),
		PID:            p.ID,
		Name:           p.Name,
		State:          p.State.String(),
		Faults:         p.Faults,
		Restarts:       p.Restarts,
		FaultKind:      faultKind,
		FaultAddr:      faultAddr,
		Regs:           p.Regs,
		FlashBase:      p.Flash.Base,
		FlashSize:      p.Flash.Size,
		RAMBase:        p.RAM.Base,
		RAMSize:        p.RAM.Size,
		Brk:            p.Brk,
		GrantWatermark: p.Grants.Watermark(),
		GrantSlots:     p.Grants.Slots(),
		PendingUpcalls: p.Upcalls.Len(),
	}

	raw, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	name := fmt.Sprintf("%s-p%d-f%d.json.gz", w.bootID, p.ID, p.Faults)
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return fmt.Errorf("snapshot file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(raw); err != nil {
		gz.Close()
		return fmt.Errorf("snapshot write: %w", err)
	}
	return gz.Close()
}
