package flash

import "errors"

// Partition describes one region of the device flash layout.
type Partition struct {
	Label  string
	Offset int64
	Size   int64
}

// Updater is the begin/write/end/commit lifecycle of a flash update region.
// All failures are terminal for the session: callers must not retry a
// failed call and must discard the session instead.
type Updater interface {
	// Begin reserves the target region for writing.
	Begin(target *Partition) error

	// Write appends bytes at the next monotonic offset. A zero-length
	// write is a no-op success.
	Write(p []byte) error

	// End finalizes the written image.
	End() error

	// Commit makes target the boot target. It can fail independently of
	// End; the previous boot target stays active in that case.
	Commit(target *Partition) error
}

// Bank is a dual-slot flash layout with a persistent boot record.
type Bank interface {
	Updater

	// NextUpdateTarget returns the inactive slot that may receive a new
	// image. It never returns the currently active boot region.
	NextUpdateTarget() (*Partition, error)

	// Active returns the currently active boot region.
	Active() *Partition
}

// The bank error conditions.
var (
	ErrNoTarget   = errors.New("no update partition available")
	ErrBusy       = errors.New("update already in progress")
	ErrNoSession  = errors.New("no update session open")
	ErrFull       = errors.New("update region full")
	ErrBadImage   = errors.New("written image has no valid header")
	ErrActiveSlot = errors.New("target is the active boot region")
)
