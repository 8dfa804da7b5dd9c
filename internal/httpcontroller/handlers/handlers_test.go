package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/analysis"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/recorder"
)

type staticStatus struct{ st *analysis.Status }

func (s staticStatus) Status() *analysis.Status { return s.st }

func testEvent(start time.Time) *analysis.Event {
	return &analysis.Event{Record: &recorder.EventRecord{
		ID:        start.Format(recorder.IDLayout),
		Start:     start,
		End:       start.Add(3 * time.Second),
		Weighting: weighting.TypeA,
		Stats: recorder.Stats{
			PeakDB:         70,
			ActualDuration: 3 * time.Second,
		},
		Reason: recorder.ReasonCompleted,
	}}
}

func TestEventStoreKeepsNewest(t *testing.T) {
	t.Parallel()

	store := NewEventStore(2, time.Hour)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, store.PublishEvent(context.Background(), testEvent(base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, store.PublishEvent(context.Background(), nil))

	recent := store.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, base.Add(2*time.Minute), recent[0].Start)
	assert.Equal(t, base.Add(time.Minute), recent[1].Start)

	_, ok := store.Get(base.Format(recorder.IDLayout))
	assert.False(t, ok, "oldest event is evicted")

	assert.Len(t, store.Recent(1), 1)
}

func TestEventStoreDropsExpired(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := NewEventStore(10, 50*time.Millisecond)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.PublishEvent(context.Background(), testEvent(start)))
	require.Len(t, store.Recent(0), 1)

	require.Eventually(t, func() bool { return len(store.Recent(0)) == 0 },
		time.Second, 10*time.Millisecond, "expired events are not listed")

	require.NoError(t, store.PublishEvent(context.Background(), testEvent(start.Add(time.Minute))))
	assert.Equal(t, 1, store.cache.ItemCount(), "expired entries are removed on write")
}

func newContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	store := NewEventStore(10, 0)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.PublishEvent(context.Background(), testEvent(start)))
	h := New(nil, nil, store)

	c, rec := newContext(http.MethodGet, "/api/v1/events?limit=5")
	require.NoError(t, h.ListEvents(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got []analysis.EventSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, start.Format(recorder.IDLayout), got[0].ID)
	assert.Equal(t, []string{}, got[0].Triggers)

	c, _ = newContext(http.MethodGet, "/api/v1/events?limit=abc")
	err := h.ListEvents(c)
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestGetEvent(t *testing.T) {
	t.Parallel()

	store := NewEventStore(10, 0)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.PublishEvent(context.Background(), testEvent(start)))
	h := New(nil, nil, store)

	c, rec := newContext(http.MethodGet, "/")
	c.SetParamNames("id")
	c.SetParamValues(start.Format(recorder.IDLayout))
	require.NoError(t, h.GetEvent(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"completed"`)

	c, _ = newContext(http.MethodGet, "/")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	var he *echo.HTTPError
	require.ErrorAs(t, h.GetEvent(c), &he)
	assert.Equal(t, http.StatusNotFound, he.Code)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider StatusProvider
		wantCode int
	}{
		{"no provider", nil, http.StatusServiceUnavailable},
		{"no snapshot", staticStatus{}, http.StatusServiceUnavailable},
		{"running", staticStatus{&analysis.Status{Running: true, Sum: 55.5, Recorder: "idle"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(tt.provider, nil, nil)
			c, rec := newContext(http.MethodGet, "/api/v1/status")
			err := h.GetStatus(c)
			if tt.wantCode != http.StatusOK {
				var he *echo.HTTPError
				require.ErrorAs(t, err, &he)
				assert.Equal(t, tt.wantCode, he.Code)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, rec.Body.String(), `"sum_db":55.5`)
			assert.Contains(t, rec.Body.String(), `"recorder_state":"idle"`)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	h := New(staticStatus{&analysis.Status{Running: true}}, nil, nil)
	c, rec := newContext(http.MethodGet, "/api/v1/health")
	require.NoError(t, h.HealthCheck(c))
	assert.JSONEq(t, `{"status":"ok","running":true}`, rec.Body.String())
}

// readLine returns the next non-empty SSE line.
func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line != "" {
			return line
		}
	}
}

func TestSSEStreamsSpectra(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sse := NewSSEHandler(nil)
	sse.SetPingInterval(50 * time.Millisecond)
	e := echo.New()
	e.GET("/sse", sse.ServeSSE)
	srv := httptest.NewServer(e)
	transport := &http.Transport{}
	client := &http.Client{Transport: transport}
	defer func() {
		sse.Close()
		srv.Close()
		transport.CloseIdleConnections()
	}()

	first := &analysis.SpectrumPayload{Bands: []string{"80"}, Values: []float64{40}, Sum: 40, Weighting: "A"}
	require.NoError(t, sse.PublishSpectrum(context.Background(), first))

	resp, err := client.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, `data: {"bands":["80"],"values":[40],"sum":40,"weighting":"A","avg_period_s":0,"ts":"0001-01-01T00:00:00Z"}`, readLine(t, r))

	require.Eventually(t, func() bool { return sse.Clients() == 1 }, time.Second, 5*time.Millisecond)
	second := &analysis.SpectrumPayload{Bands: []string{"80"}, Values: []float64{42}, Sum: 42, Weighting: "A"}
	require.NoError(t, sse.PublishSpectrum(context.Background(), second))

	var sawSecond, sawPing bool
	for !sawSecond || !sawPing {
		line := readLine(t, r)
		switch {
		case strings.HasPrefix(line, "data: ") && strings.Contains(line, `"sum":42`):
			sawSecond = true
		case line == ": ping":
			sawPing = true
		}
	}

	sse.Close()
	// Lines already buffered may still arrive before the stream ends.
	drained := make(chan error, 1)
	go func() {
		for {
			if _, err := r.ReadString('\n'); err != nil {
				drained <- err
				return
			}
		}
	}()
	select {
	case err := <-drained:
		require.Error(t, err, "stream ends after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after Close")
	}
	require.Eventually(t, func() bool { return sse.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSSERejectsAfterClose(t *testing.T) {
	t.Parallel()

	sse := NewSSEHandler(nil)
	sse.Close()
	sse.Close()

	c, _ := newContext(http.MethodGet, "/sse")
	var he *echo.HTTPError
	require.ErrorAs(t, sse.ServeSSE(c), &he)
	assert.Equal(t, http.StatusServiceUnavailable, he.Code)
}

func TestSSESlowClientDoesNotBlock(t *testing.T) {
	t.Parallel()

	sse := NewSSEHandler(nil)
	ch := make(chan []byte, clientBuffer)
	sse.addClient("slow", ch)
	defer sse.removeClient("slow")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range clientBuffer * 3 {
			p := &analysis.SpectrumPayload{Sum: float64(i)}
			assert.NoError(t, sse.PublishSpectrum(context.Background(), p))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow client")
	}
	assert.Len(t, ch, clientBuffer)
	assert.Equal(t, "sse", sse.Name())
}
