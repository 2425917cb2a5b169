package link

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-idmcam/pkg/idm"
)

// Link defaults.
const (
	DefaultScanTimeout    = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxChunk       = 512
	DefaultWriteTimeout   = 5 * time.Second
)

// Config holds link configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Discovery
	NameFilter  string
	ScanTimeout time.Duration

	// Connection
	ConnParams     ConnParams
	ConnectTimeout time.Duration
	Service        uuid.UUID
	WriteChar      uuid.UUID

	// Transfer
	MaxChunk     int
	WriteTimeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring a Link.
type Option func(*Config)

// WithNameFilter sets the advertised-name substring to match.
func WithNameFilter(filter string) Option {
	return func(c *Config) {
		c.NameFilter = filter
	}
}

// WithScanTimeout bounds discovery.
func WithScanTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ScanTimeout = timeout
	}
}

// WithConnParams sets the connection parameters.
func WithConnParams(p ConnParams) Option {
	return func(c *Config) {
		c.ConnParams = p
	}
}

// WithConnectTimeout bounds the connect handshake and endpoint discovery.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = timeout
	}
}

// WithEndpoint sets the service and characteristic to write to.
func WithEndpoint(service, char uuid.UUID) Option {
	return func(c *Config) {
		c.Service = service
		c.WriteChar = char
	}
}

// WithMaxChunk caps the size of a single write.
func WithMaxChunk(n int) Option {
	return func(c *Config) {
		c.MaxChunk = n
	}
}

// WithWriteTimeout bounds each chunk write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = timeout
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the iDotMatrix defaults.
func DefaultConfig() *Config {
	return &Config{
		NameFilter:     idm.DefaultNameFilter,
		ScanTimeout:    DefaultScanTimeout,
		ConnParams:     DefaultConnParams(),
		ConnectTimeout: DefaultConnectTimeout,
		Service:        idm.ServiceUUID,
		WriteChar:      idm.WriteCharUUID,
		MaxChunk:       DefaultMaxChunk,
		WriteTimeout:   DefaultWriteTimeout,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the config for values that would hang or misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("link: scan timeout must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("link: connect timeout must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("link: write timeout must be positive"))
	}
	if c.MaxChunk <= 0 {
		errs = append(errs, errors.New("link: max chunk must be positive"))
	}
	if c.Service == uuid.Nil || c.WriteChar == uuid.Nil {
		errs = append(errs, errors.New("link: service and characteristic required"))
	}
	return errors.Join(errs...)
}
