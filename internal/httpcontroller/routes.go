package httpcontroller

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// initRoutes registers the UI, stream and API routes.
func (s *Server) initRoutes() {
	h := s.Handlers

	s.Echo.GET("/", s.serveIndex)
	s.Echo.GET("/sse", h.SSE.ServeSSE)

	api := s.Echo.Group("/api/v1")
	api.GET("/status", h.GetStatus)
	api.GET("/health", h.HealthCheck)
	api.GET("/events", h.ListEvents)
	api.GET("/events/:id", h.GetEvent)

	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// serveIndex returns the embedded single page UI.
func (s *Server) serveIndex(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.HTMLBlob(http.StatusOK, indexHTML)
}
