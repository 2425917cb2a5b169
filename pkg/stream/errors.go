package stream

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// Sentinel errors for common conditions.
var (
	// ErrAlreadyRunning is returned when Run is called twice concurrently.
	ErrAlreadyRunning = errors.New("stream: already running")

	// ErrMaxRetries is returned when reconnection gives up.
	ErrMaxRetries = errors.New("stream: max reconnect retries exceeded")
)

// FatalError ends the stream. Nothing is retried at this layer; the
// caller aborts or restarts the process.
type FatalError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("stream: fatal during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should terminate the process: a camera
// that cannot start or a stream that could not be established.
func IsFatal(err error) bool {
	var fe *FatalError
	var he *frame.HardwareInitError
	return errors.As(err, &fe) || errors.As(err, &he)
}
