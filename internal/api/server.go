package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"ultra-tracker/internal/eta"
	"ultra-tracker/internal/race"
	"ultra-tracker/internal/tracker"
)

// StatusSource computes the runner status from the latest stored fix.
type StatusSource interface {
	Current(ctx context.Context, method eta.Method) (tracker.Status, error)
}

// LiveTrackStore persists the live-tracking session configuration.
type LiveTrackStore interface {
	GetLiveTrackConfig(ctx context.Context) (race.LiveTrackConfig, error)
	UpdateLiveTrackConfig(ctx context.Context, url string, active bool) (race.LiveTrackConfig, error)
}

type Server struct {
	App       *fiber.App
	Race      *tracker.Race
	Status    StatusSource
	LiveTrack LiveTrackStore
	// Method is used when a request does not pick one.
	Method eta.Method
}

func NewServer(r *tracker.Race, status StatusSource, liveTrack LiveTrackStore, method eta.Method) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	if method == 0 {
		method = eta.Pace
	}
	s := &Server{
		App:       app,
		Race:      r,
		Status:    status,
		LiveTrack: liveTrack,
		Method:    method,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	r := s.App.Group("/api")
	r.Get("/route", s.routeGeoJSON)
	r.Get("/route/polyline", s.routePolyline)
	r.Get("/route.kml", s.routeKML)
	r.Get("/waypoints", s.waypoints)
	r.Get("/stages", s.stages)
	r.Get("/status", s.status)
	r.Get("/eta/:waypointID", s.waypointETA)
	r.Get("/livetrack", s.getLiveTrack)
	r.Put("/livetrack", s.putLiveTrack)
}

func (s *Server) Listen(addr string) error { return s.App.Listen(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.App.ShutdownWithContext(ctx) }
