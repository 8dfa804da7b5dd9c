package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzerMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewAnalyzerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordBlock(0.002, false)
	m.RecordBlock(0.300, true)
	assert.InDelta(t, 2, testutil.ToFloat64(m.blocksProcessed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.overruns), 0)

	m.AddDroppedSamples(128)
	m.AddDroppedSamples(0)
	assert.InDelta(t, 128, testutil.ToFloat64(m.droppedSamples), 0)

	m.SetSpectrum([]string{"80", "160"}, []float64{41.5, 38}, 44.2)
	assert.InDelta(t, 44.2, testutil.ToFloat64(m.sumLevel), 1e-9)
	assert.InDelta(t, 38, testutil.ToFloat64(m.bandLevel.WithLabelValues("160")), 1e-9)

	m.SetTriggerActive("band_80", true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.triggerActive.WithLabelValues("band_80")), 0)
	m.ResetTriggers()
	assert.Equal(t, 0, testutil.CollectAndCount(m.triggerActive))

	m.RecordEventStarted()
	m.RecordEventFinalized("completed", 12)
	m.RecordEventFinalized("max_length", 300)
	assert.InDelta(t, 1, testutil.ToFloat64(m.eventsStarted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.eventsFinalized.WithLabelValues("completed")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.eventsFinalized))

	m.RecordDispatchDropped(SinkTelemetry)
	m.RecordSinkOperation(SinkEvents, "export", StatusError)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dispatchDropped.WithLabelValues(SinkTelemetry)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sinkOperations.WithLabelValues(SinkEvents, "export", StatusError)), 0)
}

func TestAnalyzerMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var m *AnalyzerMetrics
	assert.NotPanics(t, func() {
		m.RecordBlock(1, true)
		m.AddDroppedSamples(1)
		m.SetConfig(1, 48000)
		m.SetSpectrum([]string{"1000"}, []float64{1}, 1)
		m.SetTriggerActive("sum", true)
		m.ResetTriggers()
		m.SetRecorderState(1)
		m.RecordEventStarted()
		m.RecordEventFinalized("completed", 1)
		m.RecordDispatchDropped(SinkEvents)
		m.RecordSinkOperation(SinkEvents, "mqtt", StatusSuccess)
		m.ObserveExportDuration(1)
	})
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(reg)
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.IncrementMessagesDelivered("spectrum")
	m.IncrementErrors("event")
	m.StartPublishTimer().ObserveDuration()

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered.WithLabelValues("spectrum")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("event")), 0)

	m.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)

	// Double registration fails
	_, err = NewMQTTMetrics(reg)
	require.Error(t, err)
}
