package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sahilaf/Bangla-Voice-Assistant/internal/agent"
)

// StatusProvider reports the live conversation state for /status.
type StatusProvider interface {
	Stats() agent.Snapshot
}

// Server exposes health and status endpoints next to the voice agent.
type Server struct {
	e      *echo.Echo
	status StatusProvider
}

// New constructs the HTTP server with routes. status may be nil; /status
// then reports an idle agent.
func New(status StatusProvider) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{e: e, status: status}
	e.GET("/healthz", s.healthz)
	e.GET("/status", s.statusHandler)
	return s
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) statusHandler(c echo.Context) error {
	snap := agent.Snapshot{}
	if s.status != nil {
		snap = s.status.Stats()
	}
	return c.JSON(http.StatusOK, snap)
}

// Start blocks serving on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}
