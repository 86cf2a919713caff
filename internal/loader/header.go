package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Image format constants.
const (
	// HeaderVersion is the only header format this kernel accepts.
	HeaderVersion = 2
	// FixedHeaderSize is the byte length of the fixed header fields; TLV
	// records may follow up to HeaderSize.
	FixedHeaderSize = 40
	// ImageAlign is the alignment of offsets inside one image.
	ImageAlign = 4
	// RegionAlign is the flash alignment of whole images: every image starts
	// and ends on a boundary the protection unit can express, so its flash
	// extent decomposes into regions without borrowing neighboring bytes.
	// Matches the smallest region the reference hardware supports.
	RegionAlign = 32
)

// Header flag bits.
const (
	FlagEnabled uint32 = 1 << 0
	FlagSticky  uint32 = 1 << 1
)

// Header TLV and footer tags.
const (
	TagName         uint16 = 0x0001
	TagDigestBlake2 uint16 = 0x0101
)

var (
	ErrBadVersion  = errors.New("unsupported header version")
	ErrBadChecksum = errors.New("header checksum mismatch")
	ErrTruncated   = errors.New("image truncated")
)

// Header is the fixed-format application image header, little-endian in
// flash. The checksum is the XOR of the nine 32-bit words preceding it.
type Header struct {
	Version         uint16
	HeaderSize      uint16
	TotalSize       uint32
	EntryOffset     uint32
	RelocDataOffset uint32
	RelocDataSize   uint32
	BSSSize         uint32
	MinRAMSize      uint32
	FooterOffset    uint32
	Flags           uint32
	Checksum        uint32
}

// Enabled reports whether the image should be loaded at boot.
func (h *Header) Enabled() bool { return h.Flags&FlagEnabled != 0 }

// Sticky reports whether external tooling should refuse to erase the image.
func (h *Header) Sticky() bool { return h.Flags&FlagSticky != 0 }

var strucOpts = &struc.Options{Order: binary.LittleEndian}

// EncodeHeader serializes the header with a freshly computed checksum.
func EncodeHeader(h Header) ([]byte, error) {
	h.Checksum = 0
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, &h, strucOpts); err != nil {
		return nil, fmt.Errorf("pack header: %w", err)
	}
	b := buf.Bytes()
	binary.LittleEndian.PutUint32(b[FixedHeaderSize-4:], checksum(b))
	return b, nil
}

// ParseHeader decodes and validates the fixed header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < FixedHeaderSize {
		return Header{}, ErrTruncated
	}
	var h Header
	if err := struc.UnpackWithOptions(bytes.NewReader(b[:FixedHeaderSize]), &h, strucOpts); err != nil {
		return Header{}, fmt.Errorf("unpack header: %w", err)
	}
	if h.Version != HeaderVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.Checksum != checksum(b[:FixedHeaderSize]) {
		return Header{}, ErrBadChecksum
	}
	if uint32(h.HeaderSize) < FixedHeaderSize || uint32(h.HeaderSize) > h.TotalSize {
		return Header{}, fmt.Errorf("header size %d inconsistent with total %d", h.HeaderSize, h.TotalSize)
	}
	if h.FooterOffset != 0 && (h.FooterOffset < uint32(h.HeaderSize) || h.FooterOffset > h.TotalSize) {
		return Header{}, fmt.Errorf("footer offset %d outside image", h.FooterOffset)
	}
	return h, nil
}

// checksum XORs the nine words before the checksum field.
func checksum(b []byte) uint32 {
	var sum uint32
	for off := 0; off < FixedHeaderSize-4; off += 4 {
		sum ^= binary.LittleEndian.Uint32(b[off:])
	}
	return sum
}

// ParseName extracts the name TLV between the fixed header and HeaderSize.
// A missing or malformed name record yields the empty string; names are
// advisory and never load-bearing.
func ParseName(b []byte, h Header) string {
	tlv := b
	if uint32(len(tlv)) > uint32(h.HeaderSize) {
		tlv = tlv[:h.HeaderSize]
	}
	if len(tlv) < FixedHeaderSize {
		return ""
	}
	tlv = tlv[FixedHeaderSize:]
	for len(tlv) >= 4 {
		tag := binary.LittleEndian.Uint16(tlv)
		length := int(binary.LittleEndian.Uint16(tlv[2:]))
		if len(tlv) < 4+length {
			return ""
		}
		if tag == TagName {
			return string(tlv[4 : 4+length])
		}
		tlv = tlv[4+length:]
	}
	return ""
}
