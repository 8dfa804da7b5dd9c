package httpcontroller

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/httpcontroller/handlers"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// configureMiddleware sets up middleware for the server.
func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(handlers.NewTelemetryMiddleware(httpMetrics(s.metrics)).Middleware())
	s.Echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			// compressing writers buffer the event stream
			return c.Path() == "/sse"
		},
	}))
	s.setupRequestLogger()
}

// setupRequestLogger logs every request at a level chosen by its status.
// Successful polling requests are logged at debug level.
func (s *Server) setupRequestLogger() {
	reqLog := s.log.With(logger.String("component", "request"))

	s.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			message := fmt.Sprintf("%s %s %d", v.Method, v.URI, v.Status)
			fields := []logger.Field{
				logger.String("remote_ip", v.RemoteIP),
				logger.Int("status", v.Status),
				logger.Float64("latency_ms", float64(v.Latency)/float64(time.Millisecond)),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			switch {
			case v.Status >= 500:
				reqLog.Error(message, fields...)
			case v.Status >= 400:
				reqLog.Warn(message, fields...)
			case strings.HasPrefix(v.URI, "/api/") || v.URI == "/metrics":
				reqLog.Debug(message, fields...)
			default:
				reqLog.Info(message, fields...)
			}
			return nil
		},
	}))
}
