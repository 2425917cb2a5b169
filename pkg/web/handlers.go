package web

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/transcode"
)

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// handleStill serves a JPEG of the current frame, or NoFrameBody when the
// camera has nothing.
func (s *Server) handleStill(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.StillTimeout)
	defer cancel()

	f, err := frame.AcquireFresh(ctx, s.src, s.StillDiscard)
	if err != nil {
		if !errors.Is(err, frame.ErrNoFrame) {
			s.logger.Warn("still capture failed", "error", err)
		}
		return s.noFrame(c)
	}

	data, err := transcode.ToJPEG(f, s.JPEGQuality)
	if rerr := f.Release(); rerr != nil {
		s.logger.Error("frame release failed", "error", rerr)
	}
	if err != nil {
		s.logger.Warn("still encode failed", "error", err)
		return s.noFrame(c)
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(data)
}

func (s *Server) noFrame(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(NoFrameBody)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	status := fiber.Map{
		"preview_clients":  s.previewHub.ClientCount(),
		"progress_clients": s.progressHub.ClientCount(),
	}
	if s.OnStatus != nil {
		status["stream"] = s.OnStatus()
	}
	if cam, ok := s.src.(interface{ Stats() frame.Stats }); ok {
		status["camera"] = cam.Stats()
	}
	return c.JSON(status)
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.cameras == nil {
		return fiber.NewError(fiber.StatusNotFound, "camera configuration not available")
	}
	return c.JSON(fiber.Map{
		"config":       s.cameras.GetConfig(),
		"capabilities": camera.Capabilities(),
	})
}

func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.cameras == nil {
		return fiber.NewError(fiber.StatusNotFound, "camera configuration not available")
	}

	var updates map[string]interface{}
	if err := c.BodyParser(&updates); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err := s.cameras.UpdateConfig(updates); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"config": s.cameras.GetConfig()})
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}
