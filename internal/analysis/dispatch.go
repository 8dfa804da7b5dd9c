package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/export"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/recorder"
)

// Dispatcher defaults.
const (
	DefaultSpectrumQueue = 8
	DefaultEventQueue    = 16
	DefaultSinkTimeout   = 10 * time.Second
)

// Event is a finalized event together with the files written for it. Files
// is nil when no exporter is configured or the export failed.
type Event struct {
	Record *recorder.EventRecord
	Files  *export.Result
}

// SpectrumSink receives every published spectrum.
type SpectrumSink interface {
	Name() string
	PublishSpectrum(ctx context.Context, p *SpectrumPayload) error
}

// EventSink receives every finalized event after it was exported.
type EventSink interface {
	Name() string
	PublishEvent(ctx context.Context, e *Event) error
}

// Exporter writes an event record to storage.
type Exporter interface {
	Export(ctx context.Context, rec *recorder.EventRecord) (*export.Result, error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	SpectrumSinks []SpectrumSink
	EventSinks    []EventSink
	Exporter      Exporter // nil skips export
	Metrics       *metrics.AnalyzerMetrics
	SpectrumQueue int
	EventQueue    int
	SinkTimeout   time.Duration
}

// Dispatcher hands telemetry and events to the sinks on background
// goroutines. Enqueueing never blocks: a full queue drops the item with a
// warning. Sink errors are logged and counted, never returned to the caller.
type Dispatcher struct {
	opts     DispatcherOptions
	spectrum chan SpectrumPayload
	events   chan *recorder.EventRecord
	log      logger.Logger
	warn     *rate.Limiter

	started atomic.Bool
	closed  atomic.Bool
	mu      sync.RWMutex // guards sends against Close
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Start must be called to deliver.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.SpectrumQueue <= 0 {
		opts.SpectrumQueue = DefaultSpectrumQueue
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = DefaultEventQueue
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	return &Dispatcher{
		opts:     opts,
		spectrum: make(chan SpectrumPayload, opts.SpectrumQueue),
		events:   make(chan *recorder.EventRecord, opts.EventQueue),
		log:      GetLogger().With(logger.String("component", "dispatcher")),
		warn:     rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

// Start launches the delivery goroutines. Queued items are delivered even
// after Close, so events finalized during shutdown still reach storage.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.wg.Go(func() {
		for p := range d.spectrum {
			d.deliverSpectrum(&p)
		}
	})
	d.wg.Go(func() {
		for rec := range d.events {
			d.deliverEvent(rec)
		}
	})
}

// Close stops accepting items and waits until the queues are drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed.Swap(true) {
		d.mu.Unlock()
		return
	}
	close(d.spectrum)
	close(d.events)
	d.mu.Unlock()
	d.wg.Wait()
}

// PublishSpectrum enqueues a spectrum. It reports false when the item was dropped.
func (d *Dispatcher) PublishSpectrum(p SpectrumPayload) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return false
	}
	select {
	case d.spectrum <- p:
		return true
	default:
		d.dropped(metrics.SinkTelemetry)
		return false
	}
}

// PublishEvent enqueues a finalized event. It reports false when the event was dropped.
func (d *Dispatcher) PublishEvent(rec *recorder.EventRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() || rec == nil {
		return false
	}
	select {
	case d.events <- rec:
		return true
	default:
		d.log.Error("event queue full, event dropped", logger.String("event_id", rec.ID))
		d.opts.Metrics.RecordDispatchDropped(metrics.SinkEvents)
		return false
	}
}

func (d *Dispatcher) dropped(sink string) {
	d.opts.Metrics.RecordDispatchDropped(sink)
	if d.warn.Allow() {
		d.log.Warn("output queue full, dropping item", logger.String("sink", sink))
	}
}

func (d *Dispatcher) deliverSpectrum(p *SpectrumPayload) {
	for _, sink := range d.opts.SpectrumSinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.SinkTimeout)
		err := sink.PublishSpectrum(ctx, p)
		cancel()
		d.record(metrics.SinkTelemetry, sink.Name(), err)
	}
}

func (d *Dispatcher) deliverEvent(rec *recorder.EventRecord) {
	ev := &Event{Record: rec}

	if d.opts.Exporter != nil {
		started := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.SinkTimeout)
		files, err := d.opts.Exporter.Export(ctx, rec)
		cancel()
		d.opts.Metrics.ObserveExportDuration(time.Since(started).Seconds())
		d.record(metrics.SinkEvents, "export", err)
		if err != nil {
			d.log.Error("event export failed",
				logger.String("event_id", rec.ID),
				logger.Error(err))
		} else {
			ev.Files = files
		}
	}

	for _, sink := range d.opts.EventSinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.SinkTimeout)
		err := sink.PublishEvent(ctx, ev)
		cancel()
		d.record(metrics.SinkEvents, sink.Name(), err)
	}
}

func (d *Dispatcher) record(kind, name string, err error) {
	if err == nil {
		d.opts.Metrics.RecordSinkOperation(kind, name, metrics.StatusSuccess)
		return
	}
	d.opts.Metrics.RecordSinkOperation(kind, name, metrics.StatusError)
	if d.warn.Allow() {
		d.log.Warn("sink delivery failed",
			logger.String("sink", name),
			logger.String("kind", kind),
			logger.Error(err))
	}
}
