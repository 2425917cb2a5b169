package frame

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-idmcam/pkg/camera"
)

// Stats counts pool traffic through a Camera.
type Stats struct {
	Acquired uint64 `json:"acquired"`
	Returned uint64 `json:"returned"`
	Live     int64  `json:"live"`
	Empty    uint64 `json:"empty"` // acquires that found no frame
}

// Camera is the FrameSource: it owns the driver handle and wraps every
// buffer in a single-release Frame.
type Camera struct {
	driver Driver
	name   string
	logger *slog.Logger

	acquired atomic.Uint64
	returned atomic.Uint64
	empty    atomic.Uint64
	live     atomic.Int64
	closed   atomic.Bool
}

// Option configures a Camera.
type Option func(*Camera)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Camera) {
		c.logger = logger
	}
}

// Open validates cfg, starts the named driver and returns a Camera.
// Any driver failure is reported as *HardwareInitError.
func Open(name string, cfg camera.Config, opts ...Option) (*Camera, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, &HardwareInitError{Driver: name, Err: fmt.Errorf("%w: %v", ErrInvalidConfig, errs)}
	}

	d, err := OpenDriver(name, cfg)
	if err != nil {
		return nil, &HardwareInitError{Driver: name, Err: err}
	}

	c := NewCamera(d, opts...)
	c.name = name
	c.logger = c.logger.With("driver", name)
	c.logger.Info("camera initialized",
		"format", cfg.PixelFormat,
		"width", cfg.Width,
		"height", cfg.Height,
		"buffers", cfg.FrameBuffers,
	)
	return c, nil
}

// NewCamera wraps an already started driver.
func NewCamera(d Driver, opts ...Option) *Camera {
	c := &Camera{
		driver: d,
		name:   "custom",
		logger: slog.Default().With("component", "frame.camera"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire takes the next buffer from the driver.
func (c *Camera) Acquire(ctx context.Context) (*Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	buf, err := c.driver.Get(ctx)
	if err != nil {
		c.empty.Add(1)
		return nil, err
	}
	if buf == nil {
		c.empty.Add(1)
		return nil, ErrNoFrame
	}

	c.acquired.Add(1)
	c.live.Add(1)
	return newFrame(buf, c.giveBack), nil
}

func (c *Camera) giveBack(b *Buffer) error {
	c.live.Add(-1)
	c.returned.Add(1)
	if err := c.driver.Return(b); err != nil {
		c.logger.Error("frame return failed", "seq", b.Seq, "error", err)
		return err
	}
	return nil
}

// Stats returns a snapshot of pool traffic.
func (c *Camera) Stats() Stats {
	return Stats{
		Acquired: c.acquired.Load(),
		Returned: c.returned.Load(),
		Live:     c.live.Load(),
		Empty:    c.empty.Load(),
	}
}

// Close deinitializes the driver. Frames still alive at this point are a
// caller bug and are logged.
func (c *Camera) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if live := c.live.Load(); live > 0 {
		c.logger.Warn("closing camera with live frames", "live", live)
	}
	return c.driver.Close()
}
