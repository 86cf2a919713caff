package platform

import "fmt"

// Extent is a half-open [Base, Base+Size) address range in the 32-bit
// physical address space.
type Extent struct {
	Base uint32
	Size uint32
}

// End returns the first address past the extent. It saturates rather than
// wrapping so a malformed extent cannot alias low memory.
func (e Extent) End() uint32 {
	end := uint64(e.Base) + uint64(e.Size)
	if end > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(end)
}

// Contains reports whether addr lies inside the extent.
func (e Extent) Contains(addr uint32) bool {
	return addr >= e.Base && addr < e.End()
}

// ContainsRange reports whether the whole [ptr, ptr+length) range lies inside
// the extent. A wrapping ptr+length is never contained. A zero-length range
// is contained if its pointer is within bounds or equals the end.
func (e Extent) ContainsRange(ptr, length uint32) bool {
	end := uint64(ptr) + uint64(length)
	if end > 0xFFFFFFFF {
		return false
	}
	return ptr >= e.Base && uint32(end) <= e.End()
}

// Overlaps reports whether two extents share any address.
func (e Extent) Overlaps(o Extent) bool {
	return e.Base < o.End() && o.Base < e.End()
}

func (e Extent) String() string {
	return fmt.Sprintf("[%#08x,%#08x)", e.Base, e.End())
}
