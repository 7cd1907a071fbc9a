package update

import (
	"bytes"

	"github.com/theminus/minosd/internal/image"
)

// Format classifies the payload encoding of an upload body.
type Format int

const (
	FormatUnknown Format = iota
	FormatRaw
	FormatMultipart
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatMultipart:
		return "multipart"
	default:
		return "unknown"
	}
}

var dashDash = []byte("--")

// DetectFormat classifies the first received chunk of the body. Detection is
// deliberately content-based: client tooling regularly omits or mis-sets the
// Content-Type header, so the body's own byte structure is the more reliable
// signal. A raw image header always wins; a leading "--" marks the first
// boundary delimiter line of a multipart form.
func DetectFormat(first []byte) Format {
	if image.HasHeader(first) {
		return FormatRaw
	}
	if bytes.HasPrefix(first, dashDash) {
		return FormatMultipart
	}
	return FormatUnknown
}
