package loader

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ImageParams describes one application image to encode.
type ImageParams struct {
	Name string
	// Text is the program binary placed after the header; the entry point
	// is its first byte.
	Text []byte
	// Data is the relocation-data image copied into RAM at load time.
	Data []byte
	// BSSSize is the zero-initialized partition size.
	BSSSize uint32
	// MinRAMSize is the requested RAM block; zero accepts the board floor.
	MinRAMSize uint32
	// Sticky marks the image as protected from erasure by tooling.
	Sticky bool
	// Disabled leaves the image in flash but skipped at boot.
	Disabled bool
	// WithDigest appends a BLAKE2b-256 credential footer.
	WithDigest bool
}

// EncodeImage builds a complete flash image: header, name record, program
// text, relocation data, and optional credential footer, padded out to a
// protection-region boundary.
func EncodeImage(p ImageParams) ([]byte, error) {
	nameTLV := make([]byte, 0, 4+len(p.Name))
	if p.Name != "" {
		nameTLV = binary.LittleEndian.AppendUint16(nameTLV, TagName)
		nameTLV = binary.LittleEndian.AppendUint16(nameTLV, uint16(len(p.Name)))
		nameTLV = append(nameTLV, p.Name...)
	}
	headerSize := alignUp(uint32(FixedHeaderSize+len(nameTLV)), ImageAlign)
	if headerSize > 0xFFFF {
		return nil, fmt.Errorf("header TLVs too large")
	}

	textOff := headerSize
	dataOff := alignUp(textOff+uint32(len(p.Text)), ImageAlign)
	footerOff := uint32(0)
	total := alignUp(dataOff+uint32(len(p.Data)), ImageAlign)
	if p.WithDigest {
		footerOff = total
		total += 4 + blake2b.Size256
	}
	total = alignUp(total, RegionAlign)

	flags := FlagEnabled
	if p.Disabled {
		flags &^= FlagEnabled
	}
	if p.Sticky {
		flags |= FlagSticky
	}

	hdr, err := EncodeHeader(Header{
		Version:         HeaderVersion,
		HeaderSize:      uint16(headerSize),
		TotalSize:       total,
		EntryOffset:     textOff,
		RelocDataOffset: dataOff,
		RelocDataSize:   uint32(len(p.Data)),
		BSSSize:         p.BSSSize,
		MinRAMSize:      p.MinRAMSize,
		FooterOffset:    footerOff,
		Flags:           flags,
	})
	if err != nil {
		return nil, err
	}

	img := make([]byte, total)
	copy(img, hdr)
	copy(img[FixedHeaderSize:], nameTLV)
	copy(img[textOff:], p.Text)
	copy(img[dataOff:], p.Data)
	if p.WithDigest {
		sum := blake2b.Sum256(img[:footerOff])
		binary.LittleEndian.PutUint16(img[footerOff:], TagDigestBlake2)
		binary.LittleEndian.PutUint16(img[footerOff+2:], uint16(len(sum)))
		copy(img[footerOff+4:], sum[:])
	}
	return img, nil
}
