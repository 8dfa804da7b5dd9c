package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetStatus returns the latest processing snapshot.
// API: GET /api/v1/status
func (h *Handlers) GetStatus(c echo.Context) error {
	if h.Status == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "analyzer not running")
	}
	st := h.Status.Status()
	if st == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "analyzer not running")
	}
	return c.JSON(http.StatusOK, st)
}

// HealthCheck reports liveness.
// API: GET /api/v1/health
func (h *Handlers) HealthCheck(c echo.Context) error {
	running := false
	if h.Status != nil {
		if st := h.Status.Status(); st != nil {
			running = st.Running
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "running": running})
}
