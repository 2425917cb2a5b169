// Package frame owns access to the camera driver's frame-buffer pool.
//
// A driver lends out a small, fixed number of hardware buffers (as few as
// one). Every buffer handed out must go back to the pool exactly once.
// Frame is the single-owner handle that enforces that: Release returns the
// buffer on the first call and refuses every later call without touching
// the driver. Holders should decode what they need and release promptly,
// because the next Acquire may be starved (or served a stale buffer) while
// a handle is alive.
package frame

import (
	"context"
	"sync/atomic"
	"time"
)

// Buffer is what a driver hands out: one captured image in a pool slot.
// Buffers are owned by the driver; consumers only see them through Frame.
type Buffer struct {
	Width     int
	Height    int
	Format    PixelFormat
	Data      []byte
	Timestamp time.Time

	// Seq is the capture sequence number assigned by the driver.
	Seq uint64

	// Slot identifies the pool slot. Driver-private.
	Slot int

	// Native carries a driver-private handle (e.g. an OpenCV Mat).
	Native any
}

// Driver is the native camera driver: a bounded pool of capture buffers.
type Driver interface {
	// Get returns the next captured buffer. It never blocks past the
	// driver's own timeout; ErrNoFrame means nothing was ready.
	Get(ctx context.Context) (*Buffer, error)

	// Return gives a buffer back to the pool.
	Return(b *Buffer) error

	// Close deinitializes the driver.
	Close() error
}

// Source produces exclusively owned frames.
type Source interface {
	// Acquire returns the next frame, or ErrNoFrame when the driver had
	// nothing within its timeout.
	Acquire(ctx context.Context) (*Frame, error)
}

// noCopy makes `go vet` flag accidental copies of a Frame.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Frame is an exclusively owned view over a driver buffer.
// Pass it by pointer only; release it exactly once.
type Frame struct {
	_ noCopy

	buf      *Buffer
	release  func(*Buffer) error
	released atomic.Bool
}

func newFrame(buf *Buffer, release func(*Buffer) error) *Frame {
	return &Frame{buf: buf, release: release}
}

// Width returns the frame width in pixels, or 0 once released.
func (f *Frame) Width() int {
	if f.released.Load() {
		return 0
	}
	return f.buf.Width
}

// Height returns the frame height in pixels, or 0 once released.
func (f *Frame) Height() int {
	if f.released.Load() {
		return 0
	}
	return f.buf.Height
}

// Format returns the pixel format.
func (f *Frame) Format() PixelFormat {
	if f.released.Load() {
		return FormatUnknown
	}
	return f.buf.Format
}

// Data returns the raw bytes. The slice aliases driver memory and is only
// valid until Release; copy anything that must outlive the frame.
func (f *Frame) Data() []byte {
	if f.released.Load() {
		return nil
	}
	return f.buf.Data
}

// Timestamp returns the capture time.
func (f *Frame) Timestamp() time.Time {
	if f.released.Load() {
		return time.Time{}
	}
	return f.buf.Timestamp
}

// Seq returns the driver's capture sequence number.
func (f *Frame) Seq() uint64 {
	if f.released.Load() {
		return 0
	}
	return f.buf.Seq
}

// Released reports whether the buffer has gone back to the pool.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Release returns the buffer to the driver pool. Only the first call
// reaches the driver; later calls return ErrReleased.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	return f.release(f.buf)
}
