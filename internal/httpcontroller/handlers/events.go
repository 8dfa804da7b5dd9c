package handlers

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/analysis"
)

// Event list defaults.
const (
	DefaultRecentEvents   = 20
	DefaultEventRetention = 7 * 24 * time.Hour
)

// EventStore keeps the most recent finalized events in memory for the API.
// It implements analysis.EventSink.
type EventStore struct {
	cache *cache.Cache
	limit int
	mu    sync.Mutex // serializes trimming
}

// NewEventStore creates a store listing up to limit events, each kept for
// at most retention. Expired events are removed on write, so the store runs
// no cleanup goroutine.
func NewEventStore(limit int, retention time.Duration) *EventStore {
	if limit <= 0 {
		limit = DefaultRecentEvents
	}
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	return &EventStore{
		cache: cache.New(retention, cache.NoExpiration),
		limit: limit,
	}
}

// Name identifies the sink in logs and metrics.
func (s *EventStore) Name() string { return "web" }

// PublishEvent stores the event summary, evicting the oldest beyond the limit.
func (s *EventStore) PublishEvent(_ context.Context, e *analysis.Event) error {
	if e == nil || e.Record == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.DeleteExpired()
	s.cache.SetDefault(e.Record.ID, analysis.NewEventSummary(e))

	if s.cache.ItemCount() <= s.limit {
		return nil
	}
	all := s.sorted()
	for _, old := range all[s.limit:] {
		s.cache.Delete(old.ID)
	}
	return nil
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (s *EventStore) Recent(n int) []*analysis.EventSummary {
	all := s.sorted()
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Get returns one event by id.
func (s *EventStore) Get(id string) (*analysis.EventSummary, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	ev, ok := v.(*analysis.EventSummary)
	return ev, ok
}

func (s *EventStore) sorted() []*analysis.EventSummary {
	items := s.cache.Items()
	out := make([]*analysis.EventSummary, 0, len(items))
	for _, it := range items {
		if ev, ok := it.Object.(*analysis.EventSummary); ok {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b *analysis.EventSummary) int {
		if c := b.Start.Compare(a.Start); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// ListEvents returns the recent events, newest first.
// API: GET /api/v1/events?limit=n
func (h *Handlers) ListEvents(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, h.Events.Recent(limit))
}

// GetEvent returns a single event summary.
// API: GET /api/v1/events/:id
func (h *Handlers) GetEvent(c echo.Context) error {
	ev, ok := h.Events.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	}
	return c.JSON(http.StatusOK, ev)
}
