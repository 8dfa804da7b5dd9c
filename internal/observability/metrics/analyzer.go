// Package metrics provides Prometheus metrics for the sound analyzer pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AnalyzerMetrics contains Prometheus metrics for the processing loop, the
// trigger evaluator and the event recorder. All methods are no-ops on a nil
// receiver so components can run without metrics.
type AnalyzerMetrics struct {
	blocksProcessed    prometheus.Counter
	processingDuration prometheus.Histogram
	overruns           prometheus.Counter
	droppedSamples     prometheus.Counter
	configVersion      prometheus.Gauge
	sampleRate         prometheus.Gauge

	sumLevel      prometheus.Gauge
	bandLevel     *prometheus.GaugeVec
	triggerActive *prometheus.GaugeVec
	recorderState prometheus.Gauge

	eventsStarted   prometheus.Counter
	eventsFinalized *prometheus.CounterVec
	eventDuration   prometheus.Histogram

	dispatchDropped *prometheus.CounterVec
	sinkOperations  *prometheus.CounterVec
	exportDuration  prometheus.Histogram
}

// NewAnalyzerMetrics creates and registers the analyzer metrics.
func NewAnalyzerMetrics(registry prometheus.Registerer) (*AnalyzerMetrics, error) {
	m := &AnalyzerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *AnalyzerMetrics) initMetrics() {
	m.blocksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_blocks_processed_total",
		Help: "Total number of audio blocks processed",
	})

	m.processingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analyzer_block_processing_seconds",
		Help:    "Time taken to process one audio block",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12), // 0.1ms to ~400ms
	})

	m.overruns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_overruns_total",
		Help: "Total number of blocks whose processing took longer than the block duration",
	})

	m.droppedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_dropped_samples_total",
		Help: "Total number of samples dropped by the capture buffer",
	})

	m.configVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_config_version",
		Help: "Version of the active analyzer configuration",
	})

	m.sampleRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_sample_rate_hz",
		Help: "Sample rate of the active audio source",
	})

	m.sumLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_sum_level_db",
		Help: "Latest averaged sum level across all bands in the configured weighting",
	})

	m.bandLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyzer_band_level_db",
			Help: "Latest averaged level per band in the configured weighting",
		},
		[]string{"band"}, // band: 31.5, 1000
	)

	m.triggerActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyzer_trigger_active",
			Help: "Whether a trigger is currently active (1) or not (0)",
		},
		[]string{"trigger"}, // trigger: band_1000, sum, prominent_80_160
	)

	m.recorderState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_recorder_state",
		Help: "Event recorder state (0 idle, 1 recording, 2 post-roll)",
	})

	m.eventsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_events_started_total",
		Help: "Total number of events started",
	})

	m.eventsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_events_finalized_total",
			Help: "Total number of events finalized",
		},
		[]string{"reason"}, // reason: completed, max_length, shutdown, reconfigure
	)

	m.eventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analyzer_event_duration_seconds",
		Help:    "Recorded audio duration of finalized events",
		Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount10), // 1s to ~8.5min
	})

	m.dispatchDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_dispatch_dropped_total",
			Help: "Total number of outputs dropped because a sink queue was full",
		},
		[]string{"sink"},
	)

	m.sinkOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_sink_operations_total",
			Help: "Total number of sink deliveries by outcome",
		},
		[]string{"sink", "name", "status"}, // name: mqtt, export, sse; status: success, error
	)

	m.exportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analyzer_export_duration_seconds",
		Help:    "Time taken to write an event to storage",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~40s
	})
}

// getCollectors returns all collectors in order for Describe/Collect operations
func (m *AnalyzerMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.blocksProcessed,
		m.processingDuration,
		m.overruns,
		m.droppedSamples,
		m.configVersion,
		m.sampleRate,
		m.sumLevel,
		m.bandLevel,
		m.triggerActive,
		m.recorderState,
		m.eventsStarted,
		m.eventsFinalized,
		m.eventDuration,
		m.dispatchDropped,
		m.sinkOperations,
		m.exportDuration,
	}
}

// Describe implements the Collector interface
func (m *AnalyzerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *AnalyzerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordBlock records one processed block and its processing time.
func (m *AnalyzerMetrics) RecordBlock(seconds float64, overrun bool) {
	if m == nil {
		return
	}
	m.blocksProcessed.Inc()
	m.processingDuration.Observe(seconds)
	if overrun {
		m.overruns.Inc()
	}
}

// AddDroppedSamples adds samples dropped since the last call.
func (m *AnalyzerMetrics) AddDroppedSamples(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.droppedSamples.Add(float64(n))
}

// SetConfig records the active configuration version and sample rate.
func (m *AnalyzerMetrics) SetConfig(version uint64, sampleRate int) {
	if m == nil {
		return
	}
	m.configVersion.Set(float64(version))
	m.sampleRate.Set(float64(sampleRate))
}

// SetSpectrum records the latest averaged levels.
func (m *AnalyzerMetrics) SetSpectrum(bands []string, values []float64, sum float64) {
	if m == nil {
		return
	}
	m.sumLevel.Set(sum)
	for i, band := range bands {
		if i < len(values) {
			m.bandLevel.WithLabelValues(band).Set(values[i])
		}
	}
}

// SetTriggerActive records the state of one trigger.
func (m *AnalyzerMetrics) SetTriggerActive(label string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.triggerActive.WithLabelValues(label).Set(v)
}

// ResetTriggers clears per-trigger series after a reconfiguration.
func (m *AnalyzerMetrics) ResetTriggers() {
	if m == nil {
		return
	}
	m.triggerActive.Reset()
	m.bandLevel.Reset()
}

// SetRecorderState records the recorder state as its numeric value.
func (m *AnalyzerMetrics) SetRecorderState(state int) {
	if m == nil {
		return
	}
	m.recorderState.Set(float64(state))
}

// RecordEventStarted counts a started event.
func (m *AnalyzerMetrics) RecordEventStarted() {
	if m == nil {
		return
	}
	m.eventsStarted.Inc()
}

// RecordEventFinalized counts a finalized event and its recorded duration.
func (m *AnalyzerMetrics) RecordEventFinalized(reason string, seconds float64) {
	if m == nil {
		return
	}
	m.eventsFinalized.WithLabelValues(reason).Inc()
	m.eventDuration.Observe(seconds)
}

// RecordDispatchDropped counts an output dropped on a full sink queue.
func (m *AnalyzerMetrics) RecordDispatchDropped(sink string) {
	if m == nil {
		return
	}
	m.dispatchDropped.WithLabelValues(sink).Inc()
}

// RecordSinkOperation counts one delivery to a named sink.
func (m *AnalyzerMetrics) RecordSinkOperation(sink, name, status string) {
	if m == nil {
		return
	}
	m.sinkOperations.WithLabelValues(sink, name, status).Inc()
}

// ObserveExportDuration records the time taken to write an event.
func (m *AnalyzerMetrics) ObserveExportDuration(seconds float64) {
	if m == nil {
		return
	}
	m.exportDuration.Observe(seconds)
}
