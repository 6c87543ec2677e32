package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/pkg/hub"
)

// handleStatus returns the current controller snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status.Status())
}

// handleConfig returns the effective configuration
func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(s.cfg)
}

// handleStatusWS streams status snapshots to the client. The current
// snapshot is sent immediately, then updates arrive via the hub.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	c.WriteJSON(s.status.Status())
	hub.NewClient(s.statusHub, c).Run()
}

// handleCameraWS streams JPEG frames as binary websocket messages.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.NewClient(s.cameraHub, c).Run()
}
