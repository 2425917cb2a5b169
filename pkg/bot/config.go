package bot

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/transcode"
)

// DefaultCaption is the photo caption template. Available tags are
// {{width}}, {{height}}, {{seq}} and {{time}}.
const DefaultCaption = "{{width}}x{{height}} {{time}}"

// Config holds bot configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// OwnerID is the chat that may toggle public mode and receives
	// forwarded private messages.
	OwnerID int64

	// Initial toggles
	Flash  bool
	Public bool

	// Long polling
	PollTimeout  int // seconds
	ErrorBackoff time.Duration

	// Stills
	Discard     int
	JPEGQuality int
	FlashSettle time.Duration
	Caption     string

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring a Bot.
type Option func(*Config)

// WithFlash sets whether /photo turns the light on initially.
func WithFlash(on bool) Option {
	return func(c *Config) {
		c.Flash = on
	}
}

// WithPublic sets whether non-owners may use /photo and /flash initially.
func WithPublic(on bool) Option {
	return func(c *Config) {
		c.Public = on
	}
}

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(c *Config) {
		c.PollTimeout = seconds
	}
}

// WithErrorBackoff sets the pause after a failed poll.
func WithErrorBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.ErrorBackoff = d
	}
}

// WithDiscard sets how many stale frames are dropped before a still.
func WithDiscard(n int) Option {
	return func(c *Config) {
		c.Discard = n
	}
}

// WithJPEGQuality sets the quality used when the camera delivers raw frames.
func WithJPEGQuality(q int) Option {
	return func(c *Config) {
		c.JPEGQuality = q
	}
}

// WithFlashSettle sets how long the light is on before capturing.
func WithFlashSettle(d time.Duration) Option {
	return func(c *Config) {
		c.FlashSettle = d
	}
}

// WithCaption sets the photo caption template.
func WithCaption(tmpl string) Option {
	return func(c *Config) {
		c.Caption = tmpl
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default bot settings for owner.
func DefaultConfig(owner int64) *Config {
	return &Config{
		OwnerID:      owner,
		PollTimeout:  120,
		ErrorBackoff: 5 * time.Second,
		Discard:      frame.DefaultDiscard,
		JPEGQuality:  transcode.DefaultJPEGQuality,
		Caption:      DefaultCaption,
		Logger:       slog.Default(),
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
	if c.OwnerID == 0 {
		errs = append(errs, errors.New("bot: owner id required"))
	}
	if c.PollTimeout < 0 {
		errs = append(errs, errors.New("bot: poll timeout must not be negative"))
	}
	if c.Discard < 0 {
		errs = append(errs, errors.New("bot: discard must not be negative"))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, errors.New("bot: jpeg quality must be in 1..100"))
	}
	return errors.Join(errs...)
}
