// Package stream runs the camera to LED panel loop: capture a fresh
// frame, shrink it to the panel size, encode it, and push it over BLE.
//
// Only failing to establish the first connection ends the loop. A bad
// frame or a failed transfer skips one iteration; a dropped link is
// re-scanned and re-connected with backoff.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/idm"
	"github.com/teslashibe/go-idmcam/pkg/link"
	"github.com/teslashibe/go-idmcam/pkg/transcode"
)

// Stats is a snapshot of orchestrator counters.
type Stats struct {
	State             string        `json:"state"`
	Device            string        `json:"device,omitempty"`
	Running           bool          `json:"running"`
	StartedAt         time.Time     `json:"started_at,omitempty"`
	FramesSent        uint64        `json:"frames_sent"`
	NoFrame           uint64        `json:"no_frame"`
	FrameErrors       uint64        `json:"frame_errors"`
	SendFailures      uint64        `json:"send_failures"`
	Reconnects        uint64        `json:"reconnects"`
	ReconnectAttempts uint64        `json:"reconnect_attempts"`
	BytesSent         uint64        `json:"bytes_sent"`
	LastPayload       int           `json:"last_payload_bytes"`
	LastSendTime      time.Duration `json:"last_send_ns"`
	LastError         string        `json:"last_error,omitempty"`
	LastErrorAt       time.Time     `json:"last_error_at,omitempty"`
	Progress          link.Progress `json:"progress"`
}

// Orchestrator owns one panel session and feeds it frames.
type Orchestrator struct {
	src    frame.Source
	link   *link.Link
	config *Config
	logger *slog.Logger

	// OnProgress is called after every acknowledged chunk.
	OnProgress func(link.Progress)

	// OnPayload is called with each encoded image before it is sent.
	OnPayload func(image []byte)

	// OnState is called on every link state change.
	OnState func(link.State)

	running atomic.Bool

	mu      sync.Mutex
	session *link.Session
	stats   Stats
}

// New creates an orchestrator reading from src and writing through l.
// It installs itself as l's state observer.
func New(src frame.Source, l *link.Link, opts ...Option) (*Orchestrator, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		src:    src,
		link:   l,
		config: cfg,
		logger: logger.With("component", "stream"),
	}
	o.stats.State = l.State().String()
	l.OnState = o.onState
	return o, nil
}

func (o *Orchestrator) onState(s link.State) {
	o.mu.Lock()
	o.stats.State = s.String()
	cb := o.OnState
	o.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.stats
	st.Running = o.running.Load()
	return st
}

// Run streams until ctx is cancelled or the first connection fails.
// Cancellation takes effect between uploads: a payload already being
// sent is finished (each chunk is bounded by the link's write timeout)
// and the session is closed before Run returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	o.mu.Lock()
	o.stats.StartedAt = time.Now()
	o.mu.Unlock()

	if err := o.establish(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Error("initial connection failed", "error", err)
		return &FatalError{Op: "connect", Err: err}
	}
	defer o.closeSession()

	rs := &reconnectState{}
	for {
		if err := ctx.Err(); err != nil {
			o.logger.Info("stream stopped", "reason", err)
			return err
		}

		if s := o.currentSession(); s == nil || !s.Alive() {
			o.logger.Warn("session lost, re-scanning")
			err := runWithReconnect(ctx, o.logger, o.reestablish, o.config.Reconnect, rs)
			o.mu.Lock()
			o.stats.Reconnects = rs.successes
			o.stats.ReconnectAttempts = rs.attempts
			o.mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &FatalError{Op: "reconnect", Err: err}
			}
			continue
		}

		if err := o.iterate(ctx); err != nil {
			o.recordError(err)
		}

		if err := sleep(ctx, o.config.FrameInterval); err != nil {
			return err
		}
	}
}

// establish opens a session and switches the panel to image mode.
func (o *Orchestrator) establish(ctx context.Context) error {
	s, err := o.link.Open(ctx)
	if err != nil {
		return err
	}

	mode, err := idm.ImageMode(o.config.DisplayMode).Bytes()
	if err != nil {
		s.Close()
		return err
	}
	if err := s.Write(context.WithoutCancel(ctx), mode); err != nil {
		s.Close()
		return err
	}

	o.mu.Lock()
	o.session = s
	o.stats.Device = s.Name()
	o.mu.Unlock()

	o.logger.Info("streaming to panel",
		"address", s.Address(),
		"name", s.Name(),
		"mode", o.config.DisplayMode,
		"size", [2]int{o.config.Width, o.config.Height},
	)
	return nil
}

func (o *Orchestrator) reestablish(ctx context.Context) error {
	o.closeSession()
	return o.establish(ctx)
}

func (o *Orchestrator) currentSession() *link.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *Orchestrator) closeSession() {
	o.mu.Lock()
	s := o.session
	o.session = nil
	o.mu.Unlock()
	if s != nil {
		if err := s.Close(); err != nil {
			o.logger.Warn("session close failed", "error", err)
		}
	}
}

// iterate captures, converts and sends one frame.
func (o *Orchestrator) iterate(ctx context.Context) error {
	payload, err := o.capture(ctx)
	if err != nil || payload == nil {
		return err
	}

	if cb := o.OnPayload; cb != nil {
		cb(payload)
	}

	cmd, err := idm.UploadImage(payload)
	if err != nil {
		o.count(func(st *Stats) { st.FrameErrors++ })
		return err
	}
	data, err := cmd.Bytes()
	if err != nil {
		o.count(func(st *Stats) { st.FrameErrors++ })
		return err
	}

	s := o.currentSession()
	if s == nil {
		return link.ErrSessionClosed
	}

	start := time.Now()
	err = s.SendChunked(context.WithoutCancel(ctx), data, o.progress)
	if err != nil {
		o.count(func(st *Stats) { st.SendFailures++ })
		var se *link.SendError
		if errors.As(err, &se) {
			o.logger.Warn("upload abandoned", "offset", se.Offset, "total", se.Total, "transfer_id", se.TransferID, "error", se.Err)
		}
		return err
	}

	elapsed := time.Since(start)
	o.count(func(st *Stats) {
		st.FramesSent++
		st.BytesSent += uint64(len(data))
		st.LastPayload = len(payload)
		st.LastSendTime = elapsed
	})
	o.logger.Debug("frame sent", "bytes", len(data), "image_bytes", len(payload), "elapsed", elapsed)
	return nil
}

// capture returns the encoded image of a fresh frame, or nil when the
// camera had nothing ready.
func (o *Orchestrator) capture(ctx context.Context) ([]byte, error) {
	f, err := frame.AcquireFresh(ctx, o.src, o.config.StaleDiscard)
	if errors.Is(err, frame.ErrNoFrame) {
		o.count(func(st *Stats) { st.NoFrame++ })
		o.logger.Debug("no framebuffer")
		return nil, sleep(ctx, o.config.NoFrameBackoff)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		o.count(func(st *Stats) { st.FrameErrors++ })
		return nil, err
	}

	raster, err := transcode.DecodeAndResize(f, o.config.Width, o.config.Height)
	if rerr := f.Release(); rerr != nil {
		o.logger.Error("frame release failed", "error", rerr)
	}
	if err != nil {
		o.count(func(st *Stats) { st.FrameErrors++ })
		return nil, err
	}

	img, err := transcode.Encode(raster, o.config.Format)
	if err != nil {
		o.count(func(st *Stats) { st.FrameErrors++ })
		return nil, err
	}
	return img, nil
}

func (o *Orchestrator) progress(p link.Progress) {
	o.mu.Lock()
	o.stats.Progress = p
	cb := o.OnProgress
	o.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (o *Orchestrator) count(fn func(*Stats)) {
	o.mu.Lock()
	fn(&o.stats)
	o.mu.Unlock()
}

func (o *Orchestrator) recordError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	o.logger.Warn("iteration failed", "error", err)
	o.mu.Lock()
	o.stats.LastError = err.Error()
	o.stats.LastErrorAt = time.Now()
	o.mu.Unlock()
}
