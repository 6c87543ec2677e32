// Package web provides the real-time monitoring surface: status and
// config over HTTP, live status and camera frames over websockets.
package web

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/rover"
)

// StatusProvider yields controller snapshots for the status surface.
type StatusProvider interface {
	Status() rover.Status
}

// Server is the monitoring server. It never writes to the controller;
// everything it exposes is read-only.
type Server struct {
	app    *fiber.App
	cfg    *config.Config
	status StatusProvider

	statusHub *hub.Hub
	cameraHub *hub.Hub
}

// NewServer creates the monitoring server around a status provider.
func NewServer(cfg *config.Config, status StatusProvider) *Server {
	s := &Server{
		cfg:       cfg,
		status:    status,
		statusHub: hub.New("status"),
		cameraHub: hub.New("camera"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Rover Monitor",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleConfig)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// Start runs the hubs, background broadcasters and the listener.
// Blocks until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context, frames FrameFeed) error {
	go s.statusHub.Run()
	go s.cameraHub.Run()

	go s.broadcastStatus(ctx)
	if frames != nil {
		go s.broadcastFrames(ctx, frames)
	}

	log.Info("monitoring server listening", "addr", s.cfg.Web.Listen)
	return s.app.Listen(s.cfg.Web.Listen)
}

// StartAsync runs Start in a goroutine.
func (s *Server) StartAsync(ctx context.Context, frames FrameFeed) {
	go func() {
		if err := s.Start(ctx, frames); err != nil {
			log.Error("monitoring server stopped", "err", err)
		}
	}()
}

// broadcastStatus pushes controller snapshots to status clients at the
// configured interval. Skips the work entirely when nobody listens.
func (s *Server) broadcastStatus(ctx context.Context) {
	interval := time.Duration(s.cfg.Web.StatusInterval * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.status.Status()); err != nil {
				log.Warn("status broadcast failed", "err", err)
			}
		}
	}
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
