//go:build !linux

package wifi

import (
	"context"
	"fmt"
	"runtime"
)

type unsupportedBackend struct{}

func (unsupportedBackend) Associate(context.Context, string, string) error {
	return fmt.Errorf("wireless control is not supported on %s", runtime.GOOS)
}

// NewPlatformBackend returns the wireless backend for this platform.
func NewPlatformBackend() Backend {
	return unsupportedBackend{}
}
