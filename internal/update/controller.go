package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/theminus/minosd/internal/flash"
	"github.com/theminus/minosd/internal/image"
)

const (
	// chunkSize is the network read buffer size. Parsing state never
	// grows beyond one chunk plus the scanner's overlap window.
	chunkSize = 4096

	// yieldEvery makes the worker yield to the scheduler periodically so
	// a long transfer does not starve other tasks.
	yieldEvery = 16

	// headProbe is how many leading payload bytes are kept around to
	// inspect the image header and app descriptor.
	headProbe = 512
)

// Sink is the flash capability the controller writes through. flash.Bank
// satisfies it; tests use an in-memory fake.
type Sink interface {
	NextUpdateTarget() (*flash.Partition, error)
	Begin(target *flash.Partition) error
	Write(p []byte) error
	End() error
	Commit(target *flash.Partition) error
}

// Report summarizes a successful ingestion session.
type Report struct {
	Session uuid.UUID
	Format  Format
	Target  string
	Written int64
	Version string
	Project string
	Elapsed time.Duration
}

// Controller runs the firmware update ingestion pipeline: one blocking read
// loop that classifies the body, routes it through the boundary scanner when
// needed, streams payload bytes into the flash sink, and commits the boot
// pointer only on full success.
type Controller struct {
	sink Sink
}

// NewController creates a controller writing through sink.
func NewController(sink Sink) *Controller {
	return &Controller{sink: sink}
}

// Ingest consumes one upload body of contentLength declared bytes (<= 0 when
// unknown) and returns a report on success. Every error is terminal for the
// session and leaves the boot pointer and the active region untouched.
func (c *Controller) Ingest(ctx context.Context, body io.Reader, contentLength int64) (*Report, error) {
	start := time.Now()
	session := uuid.New()
	logger := log.With().Str("session", session.String()).Logger()

	target, err := c.sink.NextUpdateTarget()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUpdatePartition, err)
	}

	if err := c.sink.Begin(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeginFailed, err)
	}

	buf := make([]byte, chunkSize)
	var received, written int64
	head := make([]byte, 0, headProbe)

	// readChunk blocks for the next chunk. Read timeouts are retried, not
	// treated as errors; any other end of data returns zero.
	readChunk := func() int {
		for {
			if ctx.Err() != nil {
				return 0
			}
			n, err := body.Read(buf)
			if n > 0 {
				return n
			}
			if err == nil {
				continue
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return 0
		}
	}

	// emit forwards confirmed payload bytes to the sink, keeping a small
	// prefix for image inspection.
	emit := func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		if len(head) < headProbe {
			head = append(head, p[:min(len(p), headProbe-len(head))]...)
		}
		if err := c.sink.Write(p); err != nil {
			return err
		}
		written += int64(len(p))
		return nil
	}

	n := readChunk()
	if n == 0 {
		c.abort(logger)
		return nil, ErrNoPayload
	}
	received += int64(n)
	first := buf[:n]

	format := DetectFormat(first)
	logger.Info().
		Stringer("format", format).
		Str("target", target.Label).
		Int64("content_length", contentLength).
		Msg("update upload started")

	var scanner *Scanner
	switch format {
	case FormatRaw:
		if err := emit(first); err != nil {
			c.abort(logger)
			return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	case FormatMultipart:
		delim, err := ExtractDelimiter(first)
		if err != nil {
			c.abort(logger)
			return nil, fmt.Errorf("%w: %v", ErrMissingBoundary, err)
		}
		scanner = NewScanner(delim)
		if err := scanner.Feed(first, emit); err != nil {
			c.abort(logger)
			return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	default:
		c.abort(logger)
		return nil, ErrUnknownFormat
	}

	spin := 0
	for (scanner == nil || !scanner.Done()) && (contentLength <= 0 || received < contentLength) {
		n := readChunk()
		if n == 0 {
			break
		}
		received += int64(n)

		if scanner != nil {
			err = scanner.Feed(buf[:n], emit)
		} else {
			err = emit(buf[:n])
		}
		if err != nil {
			c.abort(logger)
			return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}

		if spin++; spin%yieldEvery == 0 {
			runtime.Gosched()
		}
	}

	if written == 0 {
		c.abort(logger)
		return nil, ErrEmptyPayload
	}

	if err := c.sink.End(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndFailed, err)
	}
	if err := c.sink.Commit(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetBootFailed, err)
	}

	report := &Report{
		Session: session,
		Format:  format,
		Target:  target.Label,
		Written: written,
		Elapsed: time.Since(start),
	}
	if desc, err := image.ParseDesc(head); err == nil {
		report.Version = desc.Version
		report.Project = desc.Project
	}

	logger.Info().
		Str("target", report.Target).
		Int64("written", report.Written).
		Str("version", report.Version).
		Dur("elapsed", report.Elapsed).
		Msg("update committed")

	return report, nil
}

// abort finalizes the sink on a failure path without committing. The target
// region stays inactive, so a partial image there is harmless.
func (c *Controller) abort(logger zerolog.Logger) {
	if err := c.sink.End(); err != nil {
		logger.Debug().Err(err).Msg("abort: sink end failed")
	}
}
