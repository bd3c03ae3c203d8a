package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSwapchainBooting signals that the swapchain was resized or went
	// out of date mid-frame. The current render tick is skipped, not failed.
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	// ErrNoSuitableDevice means no GPU meeting the backend requirements exists.
	ErrNoSuitableDevice = errors.New("no suitable GPU device found")
	// ErrDeviceLost covers lost devices and fence waits that exceeded their
	// timeout, which is treated the same way.
	ErrDeviceLost = errors.New("GPU device lost")
	ErrUnknown    = errors.New("unknown")
)

// FatalError wraps an unrecoverable GPU error together with the operation
// that produced it. It is returned to the caller rather than aborting the
// process; a library has no business killing its host.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal GPU error in %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func NewFatalError(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
