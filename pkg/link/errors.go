package link

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for common conditions.
var (
	// ErrScanTimeout is returned when no matching peripheral advertised
	// within the scan timeout.
	ErrScanTimeout = errors.New("link: scan timed out")

	// ErrSessionActive is returned when scanning or connecting while a
	// session is still open.
	ErrSessionActive = errors.New("link: session already active")

	// ErrProtocolMismatch is returned when the peripheral lacks the
	// expected service or characteristic. Retrying needs a fresh scan.
	ErrProtocolMismatch = errors.New("link: service or characteristic not found")

	// ErrDisconnected is returned when the connection dropped.
	ErrDisconnected = errors.New("link: peripheral disconnected")

	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("link: session closed")

	// ErrNoCentral is returned when the platform adapter is unavailable.
	ErrNoCentral = errors.New("link: bluetooth adapter unavailable")
)

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Address Address
	Err     error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("link [%s]: connect failed: %v", e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SendError reports a chunked send that aborted. Offset is the number of
// bytes acknowledged before the failing chunk.
type SendError struct {
	TransferID uuid.UUID
	Offset     int
	Total      int
	Chunk      int
	Err        error
}

// Error implements the error interface.
func (e *SendError) Error() string {
	return fmt.Sprintf("link: send aborted at chunk %d (offset %d/%d): %v", e.Chunk, e.Offset, e.Total, e.Err)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Err
}

// IsDisconnect reports whether err means the session is gone.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrSessionClosed)
}
