package frame

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoFrame is returned when the driver has no frame ready within its
	// own timeout (not warmed up yet, pool exhausted). Recoverable.
	ErrNoFrame = errors.New("frame: no frame available")

	// ErrReleased is returned when a frame handle is released twice.
	// The driver is not called the second time.
	ErrReleased = errors.New("frame: already released")

	// ErrClosed is returned when acquiring from a closed source.
	ErrClosed = errors.New("frame: source closed")

	// ErrUnknownDriver is returned when no driver is registered under a name.
	ErrUnknownDriver = errors.New("frame: unknown driver")

	// ErrInvalidConfig is returned when the driver rejects the camera config.
	ErrInvalidConfig = errors.New("frame: invalid driver configuration")

	// ErrAlreadyInitialized is returned when a driver is opened twice.
	ErrAlreadyInitialized = errors.New("frame: driver already initialized")

	// ErrOutOfMemory is returned when the buffer pool cannot be allocated.
	ErrOutOfMemory = errors.New("frame: not enough memory for buffer pool")

	// ErrDoubleReturn is returned by a driver when a buffer comes back twice.
	ErrDoubleReturn = errors.New("frame: buffer returned twice")

	// ErrForeignBuffer is returned by a driver for a buffer it did not hand out.
	ErrForeignBuffer = errors.New("frame: buffer does not belong to this pool")
)

// HardwareInitError reports a camera driver that could not be started.
// It is fatal: there is no retry at this layer.
type HardwareInitError struct {
	Driver string
	Err    error
}

// Error implements the error interface.
func (e *HardwareInitError) Error() string {
	return fmt.Sprintf("frame [%s]: hardware init failed: %v", e.Driver, e.Err)
}

// Unwrap returns the underlying error.
func (e *HardwareInitError) Unwrap() error {
	return e.Err
}
