// Package image parses packaged firmware image headers.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderMagic is the first byte of every packaged firmware image.
	HeaderMagic = 0xE9

	// DescMagic marks the application descriptor embedded in an image.
	DescMagic = 0xABCD5432

	// HeaderSize is the fixed size of the image header.
	HeaderSize = 24

	// DescOffset is the byte offset of the application descriptor.
	DescOffset = 32

	maxSegments = 16
	maxFlashFlag = 3
)

// Header is the fixed leading structure of a packaged firmware image.
type Header struct {
	Magic     uint8
	Segments  uint8
	FlashMode uint8
	FlashInfo uint8
	Entry     uint32
}

// Desc is the application descriptor with build metadata. Version and
// Project are NUL-padded fixed-width fields in the binary layout.
type Desc struct {
	Version string
	Project string
}

// HasHeader reports whether b begins with a structurally plausible image
// header. It needs at least 8 bytes; shorter input never matches.
func HasHeader(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	if b[0] != HeaderMagic {
		return false
	}
	if b[1] < 1 || b[1] > maxSegments {
		return false
	}
	if b[2] > maxFlashFlag {
		return false
	}
	entry := binary.LittleEndian.Uint32(b[4:8])
	if entry == 0 || entry == 0xFFFFFFFF {
		return false
	}
	return true
}

// ParseHeader decodes the image header from b.
func ParseHeader(b []byte) (Header, error) {
	if !HasHeader(b) {
		return Header{}, fmt.Errorf("no image header found")
	}
	return Header{
		Magic:     b[0],
		Segments:  b[1],
		FlashMode: b[2],
		FlashInfo: b[3],
		Entry:     binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// ParseDesc decodes the application descriptor from an image prefix. The
// descriptor is optional: images built without one yield an error.
func ParseDesc(b []byte) (Desc, error) {
	if len(b) < DescOffset+4+32+32 {
		return Desc{}, fmt.Errorf("image too short for app descriptor")
	}
	if binary.LittleEndian.Uint32(b[DescOffset:]) != DescMagic {
		return Desc{}, fmt.Errorf("no app descriptor at offset %d", DescOffset)
	}
	return Desc{
		Version: cString(b[DescOffset+4 : DescOffset+4+32]),
		Project: cString(b[DescOffset+4+32 : DescOffset+4+64]),
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
