package grant

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrOutOfMemory reports that an allocation would cross the boundary into
// the application's stack/heap partition. The failure is recoverable: the
// requesting driver surfaces an error to the application and no memory is
// touched.
var ErrOutOfMemory = errors.New("grant arena exhausted")

// Slot is one grant allocation: an address/length pair inside the arena,
// owned by a single (process, driver) pair for the life of the process
// instantiation.
type Slot struct {
	Ptr  uint32
	Size uint32
}

// Arena is the downward-growing grant region of one process. The watermark
// is the lowest allocated address; it decreases monotonically until the
// arena is reset. The floor is the top of the application-owned partition
// (the app break); allocations never descend past it.
type Arena struct {
	top         uint32
	floor       uint32
	watermark   uint32
	regionAlign uint32
	slots       map[uint32]Slot
}

// NewArena creates an empty arena spanning [floor, top). regionAlign is the
// protection unit's minimum region size: the watermark only ever sits on
// such a boundary, so the writable/guard split above the application
// partition never cuts into memory the application owns. It must be a power
// of two; zero means byte granularity.
func NewArena(floor, top, regionAlign uint32) *Arena {
	if regionAlign == 0 {
		regionAlign = 1
	}
	return &Arena{
		top:         top,
		floor:       floor,
		watermark:   top,
		regionAlign: regionAlign,
		slots:       make(map[uint32]Slot),
	}
}

// Watermark returns the current high-water mark.
func (a *Arena) Watermark() uint32 { return a.watermark }

// Free returns the bytes remaining between floor and watermark.
func (a *Arena) Free() uint32 { return a.watermark - a.floor }

// Slots returns the number of live grant slots.
func (a *Arena) Slots() int { return len(a.slots) }

// Lookup returns the existing slot for a driver, if any.
func (a *Arena) Lookup(driverID uint32) (Slot, bool) {
	s, ok := a.slots[driverID]
	return s, ok
}

// Allocate reserves size bytes immediately below the watermark for the
// given driver. Idempotent per driver: a second request returns the
// existing slot untouched, whatever its size. Returns ErrOutOfMemory when
// the aligned allocation would cross the floor.
func (a *Arena) Allocate(driverID, size, align uint32) (Slot, error) {
	if s, ok := a.slots[driverID]; ok {
		return s, nil
	}
	if align == 0 {
		align = 1
	}
	if bits.OnesCount32(align) != 1 {
		return Slot{}, fmt.Errorf("grant align %d not a power of two", align)
	}
	if align < a.regionAlign {
		align = a.regionAlign
	}
	if size > a.watermark {
		return Slot{}, ErrOutOfMemory
	}
	ptr := (a.watermark - size) &^ (align - 1)
	if ptr < a.floor {
		return Slot{}, ErrOutOfMemory
	}
	s := Slot{Ptr: ptr, Size: size}
	a.slots[driverID] = s
	a.watermark = ptr
	return s, nil
}

// SetFloor moves the application partition boundary, used when the app
// break changes via memop. Raising the floor past the watermark fails:
// the application cannot grow into allocated grants.
func (a *Arena) SetFloor(floor uint32) error {
	if floor > a.watermark {
		return ErrOutOfMemory
	}
	a.floor = floor
	return nil
}

// Reset invalidates the arena atomically. With preserve set, slot positions
// and the watermark survive into the next process instantiation; otherwise
// the arena returns to its full span. Individual slots are never freed.
func (a *Arena) Reset(preserve bool) {
	if preserve {
		return
	}
	a.watermark = a.top
	a.slots = make(map[uint32]Slot)
}
