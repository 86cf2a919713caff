package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/kestrel-os/kestrel/internal/platform"
)

// ErrCredentials reports a footer digest that does not match the image.
var ErrCredentials = errors.New("credential verification failed")

// Binary is one discovered application image still resident in flash.
type Binary struct {
	Header Header
	Name   string
	// Flash covers the whole image, header included.
	Flash platform.Extent
}

// Entry returns the absolute entry-point address.
func (b Binary) Entry() uint32 { return b.Flash.Base + b.Header.EntryOffset }

// Discover walks the application flash range and returns every enabled,
// well-formed image in address order. A zero version word ends the walk. A
// malformed header is stepped over when its TotalSize field still describes
// a span inside the range, so one corrupt image does not hide the rest;
// when even that is implausible the walk stops, since image boundaries can
// no longer be trusted. Discovery failures are load-time conditions and
// never faults.
func Discover(flash platform.Memory, apps platform.Extent) ([]Binary, error) {
	var out []Binary
	addr := apps.Base
	for addr+FixedHeaderSize <= apps.End() {
		raw, err := flash.Read(addr, headerWindow(apps, addr))
		if err != nil {
			return out, fmt.Errorf("flash read at %#x: %w", addr, err)
		}
		if binary.LittleEndian.Uint16(raw) == 0 {
			break
		}
		h, err := ParseHeader(raw)
		if err != nil {
			skip := binary.LittleEndian.Uint32(raw[4:8])
			if skip >= FixedHeaderSize && apps.ContainsRange(addr, skip) {
				addr += alignUp(skip, RegionAlign)
				continue
			}
			return out, fmt.Errorf("image at %#x: %w", addr, err)
		}
		if h.TotalSize < uint32(h.HeaderSize) || !apps.ContainsRange(addr, h.TotalSize) {
			return out, fmt.Errorf("image at %#x: %w", addr, ErrTruncated)
		}
		bin := Binary{
			Header: h,
			Name:   ParseName(raw, h),
			Flash:  platform.Extent{Base: addr, Size: h.TotalSize},
		}
		if h.Enabled() {
			out = append(out, bin)
		}
		addr += alignUp(h.TotalSize, RegionAlign)
	}
	return out, nil
}

// headerWindow bounds how much to read for header parsing: the fixed header
// plus name TLVs, clipped to the flash range.
func headerWindow(apps platform.Extent, addr uint32) uint32 {
	window := uint32(512)
	if rest := apps.End() - addr; rest < window {
		window = rest
	}
	return window
}

// VerifyCredentials checks the image's footer region. Only the BLAKE2b-256
// digest record is understood; unknown records are skipped. An image with
// no footer passes only when credentials are not required.
func VerifyCredentials(flash platform.Memory, bin Binary, required bool) error {
	h := bin.Header
	if h.FooterOffset == 0 {
		if required {
			return fmt.Errorf("%w: image %q carries no credentials", ErrCredentials, bin.Name)
		}
		return nil
	}
	covered, err := flash.Read(bin.Flash.Base, h.FooterOffset)
	if err != nil {
		return fmt.Errorf("flash read: %w", err)
	}
	footer, err := flash.Read(bin.Flash.Base+h.FooterOffset, h.TotalSize-h.FooterOffset)
	if err != nil {
		return fmt.Errorf("flash read: %w", err)
	}
	want := blake2b.Sum256(covered)
	for len(footer) >= 4 {
		tag := binary.LittleEndian.Uint16(footer)
		length := int(binary.LittleEndian.Uint16(footer[2:]))
		if len(footer) < 4+length {
			return fmt.Errorf("%w: truncated footer record", ErrCredentials)
		}
		if tag == TagDigestBlake2 {
			if !bytes.Equal(footer[4:4+length], want[:]) {
				return fmt.Errorf("%w: digest mismatch for %q", ErrCredentials, bin.Name)
			}
			return nil
		}
		footer = footer[4+length:]
	}
	if required {
		return fmt.Errorf("%w: no digest record for %q", ErrCredentials, bin.Name)
	}
	return nil
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
