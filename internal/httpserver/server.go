package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/layercodedev/sled/internal/acp"
	"github.com/layercodedev/sled/internal/config"
)

// Server bundles the HTTP router and its dependencies.
type Server struct {
	cfg config.Config
	e   *echo.Echo
}

// New constructs the HTTP server with routes.
func New(cfg config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{cfg: cfg, e: e}
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/demo", s.handleDemo)
	e.GET("/ws", s.handleChat)
	e.GET("/proxy", s.handleProxy)
	return s
}

// Handler exposes the router for the outer http.Server.
func (s *Server) Handler() http.Handler {
	return s.e
}

// handleDemo runs the scripted in-process handshake and returns its
// transcript. Diagnostics only: it never touches the real agent.
func (s *Server) handleDemo(c echo.Context) error {
	events := acp.RunDemo(acp.DemoOptions{
		AuthMethods: []string{acp.AuthMethodGeminiAPIKey},
		Chunks:      []string{"Demo reply. ", "All wired up."},
		Prompt:      "ping",
	})
	return c.JSON(http.StatusOK, events)
}
