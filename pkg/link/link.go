// Package link drives a BLE peripheral's command characteristic: scan for
// it, connect, resolve the endpoint and push payloads chunk by chunk.
//
// Each chunk is a write-with-response; the next chunk is only issued
// after the previous one is acknowledged. A payload is never interleaved
// with another on the same session.
package link

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the link's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnected
	StateStreaming
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Address identifies a peripheral, as reported by the platform stack
// (a MAC on Linux, a UUID on macOS).
type Address string

// Advertisement is one discovered peripheral.
type Advertisement struct {
	Address Address `json:"address"`
	Name    string  `json:"name"`
	RSSI    int16   `json:"rssi"`
}

// ConnParams are link-layer connection parameters. Intervals are in
// 1.25 ms units, the supervision timeout in 10 ms units.
type ConnParams struct {
	MinInterval        uint16
	MaxInterval        uint16
	Latency            uint16
	SupervisionTimeout uint16
}

// DefaultConnParams keeps the panel link healthy while streaming.
// Looser intervals are a known cause of transfer stalls.
func DefaultConnParams() ConnParams {
	return ConnParams{MinInterval: 120, MaxInterval: 120, Latency: 0, SupervisionTimeout: 60}
}

// IntervalDuration converts a link-layer interval to a duration.
func IntervalDuration(units uint16) time.Duration {
	return time.Duration(units) * 1250 * time.Microsecond
}

// TimeoutDuration converts a supervision timeout to a duration.
func TimeoutDuration(units uint16) time.Duration {
	return time.Duration(units) * 10 * time.Millisecond
}

// Central is the platform BLE stack in the central role.
type Central interface {
	// Scan reports advertisements to fn until fn returns true or ctx ends.
	Scan(ctx context.Context, fn func(Advertisement) bool) error

	// Connect establishes a connection.
	Connect(ctx context.Context, addr Address, params ConnParams) (Peripheral, error)
}

// Peripheral is a connected remote device.
type Peripheral interface {
	// Characteristic resolves a characteristic within a service.
	Characteristic(ctx context.Context, service, char uuid.UUID) (Characteristic, error)

	// MaxWrite is the largest write the connection accepts, or 0 if unknown.
	MaxWrite() int

	// Disconnect drops the connection.
	Disconnect() error

	// Disconnected is closed when the connection drops for any reason.
	Disconnected() <-chan struct{}
}

// Characteristic is a writable GATT characteristic.
type Characteristic interface {
	// Write performs an acknowledged write. It returns once the peripheral
	// has confirmed the write, or ctx ends.
	Write(ctx context.Context, p []byte) error
}

// Progress describes a chunked transfer after a chunk is acknowledged.
type Progress struct {
	TransferID uuid.UUID `json:"transfer_id"`
	Sent       int       `json:"sent"`
	Total      int       `json:"total"`
	Chunk      int       `json:"chunk"`
	Chunks     int       `json:"chunks"`
}

// Percent returns completion in the range 0..100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return p.Sent * 100 / p.Total
}

// Done reports whether every byte was sent.
func (p Progress) Done() bool {
	return p.Sent >= p.Total
}
