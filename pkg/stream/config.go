package stream

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/transcode"
)

// Config holds orchestrator configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Output image
	Width       int
	Height      int
	Format      transcode.Format
	DisplayMode uint8

	// StaleDiscard is how many frames are thrown away before each capture.
	// Hardware-dependent; see frame.DefaultDiscard.
	StaleDiscard int

	// Pacing
	NoFrameBackoff time.Duration
	FrameInterval  time.Duration

	// Recovery
	Reconnect ReconnectConfig

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Config)

// WithTargetSize sets the panel resolution.
func WithTargetSize(w, h int) Option {
	return func(c *Config) {
		c.Width = w
		c.Height = h
	}
}

// WithFormat sets the uploaded image format.
func WithFormat(f transcode.Format) Option {
	return func(c *Config) {
		c.Format = f
	}
}

// WithDisplayMode sets the ImageMode sent after every connect.
func WithDisplayMode(mode uint8) Option {
	return func(c *Config) {
		c.DisplayMode = mode
	}
}

// WithStaleDiscard sets how many stale frames to drop per capture.
func WithStaleDiscard(n int) Option {
	return func(c *Config) {
		c.StaleDiscard = n
	}
}

// WithNoFrameBackoff sets the pause after the camera had nothing ready.
func WithNoFrameBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.NoFrameBackoff = d
	}
}

// WithFrameInterval sets a minimum pause between uploads.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Config) {
		c.FrameInterval = d
	}
}

// WithReconnect sets the reconnect policy.
func WithReconnect(rc ReconnectConfig) Option {
	return func(c *Config) {
		c.Reconnect = rc
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the settings for a 32x32 iDotMatrix panel.
func DefaultConfig() *Config {
	return &Config{
		Width:          32,
		Height:         32,
		Format:         transcode.PNG,
		DisplayMode:    1,
		StaleDiscard:   frame.DefaultDiscard,
		NoFrameBackoff: 50 * time.Millisecond,
		Reconnect:      DefaultReconnectConfig(),
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, errors.New("stream: target size must be positive"))
	}
	if c.StaleDiscard < 0 {
		errs = append(errs, errors.New("stream: stale discard must not be negative"))
	}
	if c.Reconnect.MaxRetries < 0 {
		errs = append(errs, errors.New("stream: max retries must not be negative"))
	}
	if c.Reconnect.RetryDelay <= 0 {
		errs = append(errs, errors.New("stream: retry delay must be positive"))
	}
	if _, err := transcode.ParseFormat(string(c.Format)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
