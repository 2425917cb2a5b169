// Package web serves on-demand camera stills, stream status and the
// live panel preview over HTTP.
package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/hub"
)

// NoFrameBody is returned with 200 text/plain when no still is available.
const NoFrameBody = "no framebuffer"

// Server is the HTTP front end.
type Server struct {
	app    *fiber.App
	addr   string
	src    frame.Source
	logger *slog.Logger

	cameras *camera.Manager

	previewHub  *hub.Hub
	progressHub *hub.Hub

	// StillDiscard is how many stale frames to drop before a still.
	StillDiscard int

	// StillTimeout bounds acquiring a still.
	StillTimeout time.Duration

	// JPEGQuality is used when a raw frame has to be compressed.
	JPEGQuality int

	// OnStatus returns the stream status served at /api/status.
	OnStatus func() any
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCameraManager exposes runtime camera configuration under /api/camera.
func WithCameraManager(m *camera.Manager) Option {
	return func(s *Server) {
		s.cameras = m
	}
}

// NewServer creates a server listening on addr and serving stills from src.
func NewServer(addr string, src frame.Source, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		src:          src,
		logger:       slog.Default(),
		StillTimeout: 2 * time.Second,
		JPEGQuality:  85,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.previewHub = hub.New("preview", s.logger)
	s.progressHub = hub.New("progress", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "idmcam",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	app.Get("/", s.handleRoot)
	app.Get("/camera.jpg", s.handleStill)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)
	api.Get("/camera/presets", s.handlePresets)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/preview", websocket.New(s.previewHub.Serve))
	app.Get("/ws/progress", websocket.New(s.progressHub.Serve))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go s.previewHub.Run(ctx)
	go s.progressHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

// SendPreview pushes an encoded panel image to preview viewers.
func (s *Server) SendPreview(img []byte) {
	s.previewHub.BroadcastBinary(img)
}

// SendEvent pushes a JSON event to progress viewers.
func (s *Server) SendEvent(typ string, data any) {
	if err := s.progressHub.BroadcastEvent(typ, data); err != nil {
		s.logger.Warn("event encode failed", "type", typ, "error", err)
	}
}

// PreviewHub returns the preview hub.
func (s *Server) PreviewHub() *hub.Hub {
	return s.previewHub
}

// ProgressHub returns the progress hub.
func (s *Server) ProgressHub() *hub.Hub {
	return s.progressHub
}
