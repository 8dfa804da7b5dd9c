package handlers

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
)

// TelemetryMiddleware records request counts and latencies.
type TelemetryMiddleware struct {
	httpMetrics *metrics.HTTPMetrics
}

// NewTelemetryMiddleware creates a new telemetry middleware instance
func NewTelemetryMiddleware(httpMetrics *metrics.HTTPMetrics) *TelemetryMiddleware {
	return &TelemetryMiddleware{httpMetrics: httpMetrics}
}

// Middleware returns the Echo middleware function. The route pattern is used
// as path label so event ids do not create new series.
func (tm *TelemetryMiddleware) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			if status == 0 {
				status = 200
			}
			tm.httpMetrics.RecordHTTPRequest(c.Request().Method, path, status, time.Since(start).Seconds())
			return err
		}
	}
}
