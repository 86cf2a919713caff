// Package attrs encodes the trailing metadata block at the end of kernel
// flash: a fixed tag-length-value layout recording the kernel's own flash
// range, the application RAM range, a format version byte, and a sentinel.
// The block is produced once at build time and consumed by external
// flashing and inspection tooling; it is never runtime-mutable.
package attrs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kestrel-os/kestrel/internal/platform"
)

// Version is the current metadata block format.
const Version = 1

// Sentinel terminates the block; tooling scans for it from the end of
// kernel flash.
var Sentinel = [4]byte{'K', 'S', 'T', 'R'}

// Record tags.
const (
	TagKernelFlash uint8 = 0x01 // base u32, length u32
	TagAppRAM      uint8 = 0x02 // base u32, length u32
	TagVersion     uint8 = 0x03 // version u8
)

// ErrNoSentinel reports a block that does not end in the sentinel.
var ErrNoSentinel = errors.New("metadata sentinel not found")

// Attrs is the decoded metadata block.
type Attrs struct {
	KernelFlash platform.Extent
	AppRAM      platform.Extent
	Version     uint8
}

// Encode serializes the block: TLV records followed by the sentinel.
func Encode(a Attrs) []byte {
	var buf bytes.Buffer
	writeExtent := func(tag uint8, e platform.Extent) {
		buf.WriteByte(tag)
		buf.WriteByte(8)
		var w [8]byte
		binary.LittleEndian.PutUint32(w[0:], e.Base)
		binary.LittleEndian.PutUint32(w[4:], e.Size)
		buf.Write(w[:])
	}
	writeExtent(TagKernelFlash, a.KernelFlash)
	writeExtent(TagAppRAM, a.AppRAM)
	buf.WriteByte(TagVersion)
	buf.WriteByte(1)
	buf.WriteByte(a.Version)
	buf.Write(Sentinel[:])
	return buf.Bytes()
}

// Decode parses a block whose final four bytes are the sentinel. Unknown
// tags are skipped so older tooling survives format additions.
func Decode(b []byte) (Attrs, error) {
	if len(b) < len(Sentinel) || !bytes.Equal(b[len(b)-4:], Sentinel[:]) {
		return Attrs{}, ErrNoSentinel
	}
	body := b[:len(b)-4]
	var a Attrs
	for len(body) > 0 {
		if len(body) < 2 {
			return Attrs{}, fmt.Errorf("truncated record header")
		}
		tag, length := body[0], int(body[1])
		if len(body) < 2+length {
			return Attrs{}, fmt.Errorf("truncated record %#x", tag)
		}
		val := body[2 : 2+length]
		switch tag {
		case TagKernelFlash, TagAppRAM:
			if length != 8 {
				return Attrs{}, fmt.Errorf("record %#x: bad length %d", tag, length)
			}
			e := platform.Extent{
				Base: binary.LittleEndian.Uint32(val),
				Size: binary.LittleEndian.Uint32(val[4:]),
			}
			if tag == TagKernelFlash {
				a.KernelFlash = e
			} else {
				a.AppRAM = e
			}
		case TagVersion:
			if length != 1 {
				return Attrs{}, fmt.Errorf("version record: bad length %d", length)
			}
			a.Version = val[0]
		}
		body = body[2+length:]
	}
	return a, nil
}
