package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Link owns the central and at most one Session at a time.
type Link struct {
	central Central
	config  *Config
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	session *Session

	// OnState is called on every state transition.
	OnState func(State)
}

// New creates a Link over central.
func New(central Central, opts ...Option) (*Link, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if central == nil {
		return nil, ErrNoCentral
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		central: central,
		config:  cfg,
		logger:  logger.With("component", "link"),
	}, nil
}

// Config returns the link configuration.
func (l *Link) Config() Config {
	return *l.config
}

// State returns the current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	cb := l.OnState
	l.mu.Unlock()

	if changed {
		l.logger.Debug("state", "state", s.String())
		if cb != nil {
			cb(s)
		}
	}
}

func (l *Link) active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil
}

// Scan looks for a peripheral whose advertised name contains filter. It
// fails with ErrScanTimeout once timeout elapses; it never retries.
func (l *Link) Scan(ctx context.Context, filter string, timeout time.Duration) (Advertisement, error) {
	if l.active() {
		return Advertisement{}, ErrSessionActive
	}

	prev := l.State()
	l.setState(StateScanning)
	defer l.setState(prev)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l.logger.Info("scanning", "filter", filter, "timeout", timeout)

	var (
		found Advertisement
		ok    bool
	)
	err := l.central.Scan(scanCtx, func(adv Advertisement) bool {
		if !strings.Contains(adv.Name, filter) {
			return false
		}
		found, ok = adv, true
		return true
	})

	if ok {
		l.logger.Info("peripheral found", "address", found.Address, "name", found.Name, "rssi", found.RSSI)
		return found, nil
	}
	if ctx.Err() != nil {
		return Advertisement{}, ctx.Err()
	}
	if scanCtx.Err() != nil || err == nil {
		return Advertisement{}, fmt.Errorf("%w: no %q within %s", ErrScanTimeout, filter, timeout)
	}
	return Advertisement{}, fmt.Errorf("link: scan: %w", err)
}

// Discover collects every advertisement seen within timeout. Duplicates
// are reported once, keeping the strongest signal.
func (l *Link) Discover(ctx context.Context, filter string, timeout time.Duration) ([]Advertisement, error) {
	if l.active() {
		return nil, ErrSessionActive
	}

	prev := l.State()
	l.setState(StateScanning)
	defer l.setState(prev)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seen := map[Address]Advertisement{}
	var order []Address
	err := l.central.Scan(scanCtx, func(adv Advertisement) bool {
		if !strings.Contains(adv.Name, filter) {
			return false
		}
		old, dup := seen[adv.Address]
		if !dup {
			order = append(order, adv.Address)
		}
		if !dup || adv.RSSI > old.RSSI {
			seen[adv.Address] = adv
		}
		return false
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && scanCtx.Err() == nil {
		return nil, fmt.Errorf("link: scan: %w", err)
	}
	return lo.Map(order, func(a Address, _ int) Advertisement { return seen[a] }), nil
}

// Connect connects to addr and resolves the write characteristic. A
// missing service or characteristic is ErrProtocolMismatch; the
// connection is dropped before returning.
func (l *Link) Connect(ctx context.Context, adv Advertisement) (*Session, error) {
	if l.active() {
		return nil, ErrSessionActive
	}

	cctx, cancel := context.WithTimeout(ctx, l.config.ConnectTimeout)
	defer cancel()

	p, err := l.central.Connect(cctx, adv.Address, l.config.ConnParams)
	if err != nil {
		l.setState(StateIdle)
		return nil, &ConnectError{Address: adv.Address, Err: err}
	}

	char, err := p.Characteristic(cctx, l.config.Service, l.config.WriteChar)
	if err != nil {
		if derr := p.Disconnect(); derr != nil {
			l.logger.Warn("disconnect after mismatch failed", "error", derr)
		}
		l.setState(StateIdle)
		return nil, fmt.Errorf("%w: %s/%s on %s: %v", ErrProtocolMismatch, l.config.Service, l.config.WriteChar, adv.Address, err)
	}

	chunk := l.config.MaxChunk
	if mw := p.MaxWrite(); mw > 0 && mw < chunk {
		chunk = mw
	}

	s := &Session{
		link:         l,
		adv:          adv,
		peripheral:   p,
		char:         char,
		chunk:        chunk,
		writeTimeout: l.config.WriteTimeout,
		logger:       l.logger.With("address", string(adv.Address)),
		done:         make(chan struct{}),
		lost:         make(chan struct{}),
	}

	l.mu.Lock()
	if l.session != nil {
		l.mu.Unlock()
		p.Disconnect()
		return nil, ErrSessionActive
	}
	l.session = s
	l.mu.Unlock()

	go s.watch()

	l.setState(StateConnected)
	s.logger.Info("connected", "name", adv.Name, "chunk", chunk)
	return s, nil
}

// Open scans with the configured filter and timeout, then connects.
func (l *Link) Open(ctx context.Context) (*Session, error) {
	adv, err := l.Scan(ctx, l.config.NameFilter, l.config.ScanTimeout)
	if err != nil {
		return nil, err
	}
	return l.Connect(ctx, adv)
}

// Session returns the open session, if any.
func (l *Link) Session() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

func (l *Link) release(s *Session, final State) {
	l.mu.Lock()
	other := l.session != nil && l.session != s
	if l.session == s {
		l.session = nil
	}
	l.mu.Unlock()
	if !other {
		l.setState(final)
	}
}

// Session is an established connection plus its resolved write
// characteristic. Sends on one session are serialized.
type Session struct {
	link         *Link
	adv          Advertisement
	peripheral   Peripheral
	char         Characteristic
	chunk        int
	writeTimeout time.Duration
	logger       *slog.Logger

	sendMu sync.Mutex

	once     sync.Once
	lostOnce sync.Once
	done     chan struct{}
	lost     chan struct{}
}

// Address returns the peer address.
func (s *Session) Address() Address { return s.adv.Address }

// Name returns the peer's advertised name.
func (s *Session) Name() string { return s.adv.Name }

// ChunkSize returns the per-write limit in use.
func (s *Session) ChunkSize() int { return s.chunk }

// Disconnected is closed when the peer drops the connection.
func (s *Session) Disconnected() <-chan struct{} { return s.lost }

// Alive reports whether the session can still send.
func (s *Session) Alive() bool {
	return s.err() == nil
}

func (s *Session) err() error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case <-s.lost:
		return ErrDisconnected
	default:
		return nil
	}
}

func (s *Session) watch() {
	select {
	case <-s.peripheral.Disconnected():
		s.markLost()
	case <-s.done:
	}
}

func (s *Session) markLost() {
	s.lostOnce.Do(func() {
		s.link.release(s, StateDisconnected)
		s.logger.Warn("peripheral disconnected")
		close(s.lost)
	})
}

// abandon drops a peripheral that may still be processing a write.
func (s *Session) abandon() {
	if err := s.peripheral.Disconnect(); err != nil {
		s.logger.Debug("disconnect after unacknowledged write", "error", err)
	}
	s.markLost()
}

// Write sends a single command that fits in one chunk.
func (s *Session) Write(ctx context.Context, p []byte) error {
	return s.SendChunked(ctx, p, nil)
}

// SendChunked writes data in order as chunks of at most ChunkSize bytes,
// waiting for each acknowledgement before the next. The first failure
// aborts the transfer with *SendError; later chunks are not attempted.
// progress, if set, is called after every acknowledged chunk.
func (s *Session) SendChunked(ctx context.Context, data []byte, progress func(Progress)) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.err(); err != nil {
		return ErrSessionClosed
	}

	id := uuid.New()
	chunks := lo.Chunk(data, s.chunk)
	total := len(data)

	s.link.setState(StateStreaming)
	defer func() {
		if s.Alive() {
			s.link.setState(StateConnected)
		}
	}()

	sent := 0
	for i, c := range chunks {
		fail := func(err error) error {
			return &SendError{TransferID: id, Offset: sent, Total: total, Chunk: i, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := s.err(); err != nil {
			return fail(err)
		}

		wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		err := s.char.Write(wctx, c)
		unacked := err != nil && wctx.Err() != nil
		cancel()
		if err != nil {
			switch {
			case unacked:
				// The stack may still deliver this chunk, so nothing else
				// can be written on this connection in order.
				s.abandon()
				err = fmt.Errorf("%w: chunk not acknowledged: %w", ErrDisconnected, err)
			case errors.Is(err, ErrDisconnected):
				s.markLost()
			}
			s.logger.Error("chunk write failed",
				"transfer_id", id,
				"chunk", i,
				"offset", sent,
				"total", total,
				"error", err,
			)
			return fail(err)
		}

		sent += len(c)
		if progress != nil {
			progress(Progress{TransferID: id, Sent: sent, Total: total, Chunk: i + 1, Chunks: len(chunks)})
		}
	}

	s.logger.Debug("transfer complete", "transfer_id", id, "bytes", total, "chunks", len(chunks))
	return nil
}

// Close disconnects and frees the Link for a new scan. It is safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		defer s.sendMu.Unlock()

		select {
		case <-s.lost:
			s.link.release(s, StateDisconnected)
		default:
			err = s.peripheral.Disconnect()
			s.link.release(s, StateIdle)
		}
		s.logger.Info("session closed")
	})
	return err
}
