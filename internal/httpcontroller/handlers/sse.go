package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/analysis"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
)

const (
	// DefaultPingInterval keeps proxies from closing idle streams.
	DefaultPingInterval = 15 * time.Second
	clientBuffer        = 4
)

// SSEHandler streams every published spectrum to the connected browsers.
// It implements analysis.SpectrumSink.
type SSEHandler struct {
	mu      sync.Mutex
	clients map[string]chan []byte
	latest  atomic.Pointer[[]byte]
	done    chan struct{}
	closed  sync.Once

	metrics *metrics.HTTPMetrics
	ping    time.Duration
	log     logger.Logger
}

// NewSSEHandler creates a broadcaster. m may be nil.
func NewSSEHandler(m *metrics.HTTPMetrics) *SSEHandler {
	return &SSEHandler{
		clients: make(map[string]chan []byte),
		done:    make(chan struct{}),
		metrics: m,
		ping:    DefaultPingInterval,
		log:     GetLogger().With(logger.String("component", "sse")),
	}
}

// SetPingInterval changes the keep-alive interval for new streams.
func (h *SSEHandler) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.ping = d
	}
}

// Name identifies the sink in logs and metrics.
func (h *SSEHandler) Name() string { return "sse" }

// PublishSpectrum stores the spectrum as the latest one and forwards it to
// every client. Slow clients skip messages instead of blocking the sender.
func (h *SSEHandler) PublishSpectrum(_ context.Context, p *analysis.SpectrumPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryBroadcast).
			Build()
	}
	h.latest.Store(&data)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.metrics.RecordSSEError("slow_client")
			h.log.Debug("client lagging, spectrum skipped", logger.String("client_id", id))
		}
	}
	return nil
}

// Clients returns the number of connected streams.
func (h *SSEHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends all streams. Open streams keep http.Server.Shutdown waiting
// otherwise.
func (h *SSEHandler) Close() {
	h.closed.Do(func() { close(h.done) })
}

// ServeSSE streams spectra as server-sent events, starting with the latest
// one, and sends a comment line as keep-alive.
// API: GET /sse
func (h *SSEHandler) ServeSSE(c echo.Context) error {
	select {
	case <-h.done:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server shutting down")
	default:
	}

	id := uuid.NewString()
	ch := make(chan []byte, clientBuffer)
	h.addClient(id, ch)
	defer h.removeClient(id)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if latest := h.latest.Load(); latest != nil {
		if err := h.write(res, *latest); err != nil {
			return nil
		}
	} else {
		fmt.Fprint(res, ": connected\n\n")
		res.Flush()
	}

	ping := time.NewTicker(h.ping)
	defer ping.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case data := <-ch:
			if err := h.write(res, data); err != nil {
				return nil
			}
		case <-ping.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				h.metrics.RecordSSEError("write")
				return nil
			}
			res.Flush()
		}
	}
}

func (h *SSEHandler) write(res *echo.Response, data []byte) error {
	if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
		h.metrics.RecordSSEError("write")
		h.log.Debug("SSE write failed", logger.Error(err))
		return err
	}
	res.Flush()
	h.metrics.RecordSSEMessage("spectrum")
	return nil
}

func (h *SSEHandler) addClient(id string, ch chan []byte) {
	h.mu.Lock()
	h.clients[id] = ch
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SSEConnected(1)
	h.log.Debug("SSE client connected", logger.String("client_id", id), logger.Int("clients", n))
}

func (h *SSEHandler) removeClient(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SSEConnected(-1)
	h.log.Debug("SSE client disconnected", logger.String("client_id", id), logger.Int("clients", n))
}
