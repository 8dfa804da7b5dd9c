// Package httpcontroller serves the web UI, the spectrum stream and the JSON API.
package httpcontroller

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/conf"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/httpcontroller/handlers"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
)

const shutdownTimeout = 5 * time.Second

// Options holds the dependencies of the server.
type Options struct {
	Settings *conf.Settings
	Status   handlers.StatusProvider
	SSE      *handlers.SSEHandler
	Events   *handlers.EventStore
	Metrics  *observability.Metrics // nil disables /metrics
}

// Server encapsulates Echo server and related configurations.
type Server struct {
	Echo     *echo.Echo
	Settings *conf.Settings
	Handlers *handlers.Handlers
	metrics  *observability.Metrics
	log      logger.Logger
}

// New initializes the server and its routes.
func New(opts Options) *Server {
	if opts.SSE == nil {
		opts.SSE = handlers.NewSSEHandler(httpMetrics(opts.Metrics))
	}
	if opts.Events == nil {
		opts.Events = handlers.NewEventStore(opts.Settings.WebServer.RecentEvents, 0)
	}

	s := &Server{
		Echo:     echo.New(),
		Settings: opts.Settings,
		Handlers: handlers.New(opts.Status, opts.SSE, opts.Events),
		metrics:  opts.Metrics,
		log:      GetLogger(),
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()

	s.configureMiddleware()
	s.initRoutes()
	return s
}

// Start listens on the configured port until ctx is done, then shuts down
// gracefully. Open SSE streams are closed first.
func (s *Server) Start(ctx context.Context) error {
	addr := ":" + s.Settings.WebServer.Port
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("address", addr).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Echo.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Echo.Start("")
	}()
	s.log.Info("HTTP server started", logger.String("address", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Build()
	case <-ctx.Done():
	}

	s.Handlers.SSE.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown incomplete", logger.Error(err))
		_ = s.Echo.Close()
	}
	<-errCh
	s.log.Info("HTTP server stopped")
	return nil
}

func httpMetrics(m *observability.Metrics) *metrics.HTTPMetrics {
	if m == nil {
		return nil
	}
	return m.HTTP
}

// GetLogger returns the http module logger.
func GetLogger() logger.Logger {
	return handlers.GetLogger()
}
