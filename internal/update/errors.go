package update

import "errors"

// The ingestion error kinds. Every kind is terminal for the session: the
// client must re-issue the entire upload. Whatever happens, the active boot
// region and boot pointer are left unchanged.
var (
	// ErrNoUpdatePartition means no inactive flash region was available.
	ErrNoUpdatePartition = errors.New("no update partition available")

	// ErrBeginFailed means the update region could not be reserved.
	ErrBeginFailed = errors.New("update begin failed")

	// ErrNoPayload means the client never delivered any body bytes.
	ErrNoPayload = errors.New("no payload received")

	// ErrUnknownFormat means the body matched neither a raw firmware
	// image nor a multipart form.
	ErrUnknownFormat = errors.New("unknown payload format")

	// ErrMissingBoundary means a multipart body carried no usable
	// boundary token on its first line.
	ErrMissingBoundary = errors.New("missing multipart boundary")

	// ErrWriteFailed means a flash write failed mid-stream.
	ErrWriteFailed = errors.New("update write failed")

	// ErrEmptyPayload means the body was consumed but produced zero
	// payload bytes, e.g. a well-formed multipart wrapper with no file.
	ErrEmptyPayload = errors.New("empty update payload")

	// ErrEndFailed means image finalization failed.
	ErrEndFailed = errors.New("update end failed")

	// ErrSetBootFailed means the boot pointer could not be updated even
	// though the image was fully written.
	ErrSetBootFailed = errors.New("set boot partition failed")
)

// ClientError reports whether err is caused by the client's request rather
// than by the device, for HTTP status selection.
func ClientError(err error) bool {
	return errors.Is(err, ErrNoPayload) ||
		errors.Is(err, ErrUnknownFormat) ||
		errors.Is(err, ErrMissingBoundary) ||
		errors.Is(err, ErrEmptyPayload)
}
