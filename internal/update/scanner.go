package update

import (
	"bytes"
	"fmt"
)

// The scanner states. Transitions only move forward:
// seekingBoundary -> seekingHeaderEnd -> streamingPayload -> scanDone.
type scanState int

const (
	seekingBoundary scanState = iota
	seekingHeaderEnd
	streamingPayload
	scanDone
)

const (
	// tailMargin is added to the delimiter length when sizing the overlap
	// window retained between chunks.
	tailMargin = 8

	// maxTail caps the overlap window regardless of delimiter length.
	maxTail = 256

	// maxBoundaryLine bounds the first line scanned for the boundary
	// token (RFC 2046 limits the token itself to 70 characters).
	maxBoundaryLine = 74
)

var headerEnd = []byte("\r\n\r\n")

// Scanner extracts the single part body from a multipart/form-data byte
// stream fed to it in arbitrarily sized chunks. Payload bytes are handed to
// an emit callback; bytes that could still turn out to be the prefix of a
// delimiter split across chunks are withheld in a bounded overlap window
// until the next chunk resolves them.
type Scanner struct {
	delimiter []byte // "--" + token
	closer    []byte // "\r\n" + "--" + token
	tailMax   int
	state     scanState
	tail      []byte
}

// ExtractDelimiter reads the boundary delimiter from the first line of a
// multipart body. The line must start with "--" and terminate with a line
// break within maxBoundaryLine bytes.
func ExtractDelimiter(first []byte) ([]byte, error) {
	if !bytes.HasPrefix(first, dashDash) {
		return nil, fmt.Errorf("body does not start with a boundary line")
	}
	limit := len(first)
	if limit > maxBoundaryLine {
		limit = maxBoundaryLine
	}
	end := bytes.IndexAny(first[:limit], "\r\n")
	if end <= len(dashDash) {
		return nil, fmt.Errorf("no boundary token before line break")
	}
	delim := make([]byte, end)
	copy(delim, first[:end])
	return delim, nil
}

// NewScanner creates a scanner for the given boundary delimiter ("--token").
func NewScanner(delimiter []byte) *Scanner {
	tailMax := len(delimiter) + tailMargin
	if tailMax > maxTail {
		tailMax = maxTail
	}
	return &Scanner{
		delimiter: delimiter,
		closer:    append([]byte("\r\n"), delimiter...),
		tailMax:   tailMax,
		tail:      make([]byte, 0, tailMax),
	}
}

// Done reports whether the closing delimiter has been consumed. A done
// scanner ignores further input.
func (s *Scanner) Done() bool {
	return s.state == scanDone
}

// Feed processes the next chunk, invoking emit for every confirmed payload
// slice. Ambiguity about whether trailing bytes belong to the payload or to
// a delimiter still in flight is always resolved by withholding them; they
// are re-examined together with the next chunk.
func (s *Scanner) Feed(chunk []byte, emit func([]byte) error) error {
	if s.state == scanDone {
		return nil
	}

	view := make([]byte, 0, len(s.tail)+len(chunk))
	view = append(view, s.tail...)
	view = append(view, chunk...)

	from := 0

	if s.state == seekingBoundary {
		i := bytes.Index(view, s.delimiter)
		if i < 0 {
			s.retain(view)
			return nil
		}
		s.state = seekingHeaderEnd
		from = i
	}

	if s.state == seekingHeaderEnd {
		i := bytes.Index(view[from:], headerEnd)
		if i < 0 {
			// Header block still incomplete; bytes before the
			// boundary are preamble and never payload.
			s.retain(view[from:])
			return nil
		}
		s.state = streamingPayload
		from += i + len(headerEnd)
	}

	if i := bytes.Index(view[from:], s.closer); i >= 0 {
		// Everything up to the closing delimiter is the final payload
		// slice. An empty slice is legal (zero-length file).
		s.state = scanDone
		s.tail = nil
		if i > 0 {
			return emit(view[from : from+i])
		}
		return nil
	}

	// Closing delimiter not seen. The last tailMax bytes might be its
	// prefix, so only the window before them is safe to emit.
	if len(view)-from > s.tailMax {
		safe := view[from : len(view)-s.tailMax]
		s.tail = append(s.tail[:0], view[len(view)-s.tailMax:]...)
		return emit(safe)
	}
	s.tail = append(s.tail[:0], view[from:]...)
	return nil
}

// retain keeps at most tailMax trailing bytes of window as the next overlap
// tail. The tail is always a suffix of bytes not yet confirmed safe.
func (s *Scanner) retain(window []byte) {
	if len(window) > s.tailMax {
		window = window[len(window)-s.tailMax:]
	}
	s.tail = append(s.tail[:0], window...)
}
