package analysis

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/export"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/myaudio"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/recorder"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

const testRate = 8000

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// syntheticSource yields blocks of a 1 kHz tone whose amplitude is chosen
// per block. After the last block it returns endErr.
type syntheticSource struct {
	rate      int
	amplitude func(block int) float64
	blocks    int
	endErr    error
	dropped   uint64

	mu      sync.Mutex
	next    int
	started bool
	stopped bool
	onBlock func(block int)
}

func (s *syntheticSource) Name() string { return "synthetic" }

func (s *syntheticSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *syntheticSource) SampleRate() int { return s.rate }

func (s *syntheticSource) Dropped() uint64 { return s.dropped }

func (s *syntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *syntheticSource) ReadBlock(ctx context.Context, n int) (myaudio.Block, error) {
	if err := ctx.Err(); err != nil {
		return myaudio.Block{}, err
	}
	s.mu.Lock()
	i := s.next
	s.next++
	hook := s.onBlock
	s.mu.Unlock()

	if i >= s.blocks {
		return myaudio.Block{}, s.endErr
	}
	if hook != nil {
		hook(i)
	}

	amp := s.amplitude(i)
	offset := i * n
	samples := make([]float64, n)
	for j := range samples {
		samples[j] = amp * math.Sin(2*math.Pi*1000*float64(offset+j)/float64(s.rate))
	}
	return myaudio.Block{
		Timestamp: testStart.Add(time.Duration(offset) * time.Second / time.Duration(s.rate)),
		Samples:   samples,
	}, nil
}

type collectingSink struct {
	mu       sync.Mutex
	spectra  []SpectrumPayload
	events   []*Event
	failWith error
}

func (c *collectingSink) Name() string { return "collect" }

func (c *collectingSink) PublishSpectrum(_ context.Context, p *SpectrumPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spectra = append(c.spectra, *p)
	return c.failWith
}

func (c *collectingSink) PublishEvent(_ context.Context, e *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.failWith
}

func (c *collectingSink) snapshot() ([]SpectrumPayload, []*Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SpectrumPayload(nil), c.spectra...), append([]*Event(nil), c.events...)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Version:         configVersion.Add(1),
		Scheme:          soundlevel.SchemeOctave,
		Centers:         []float64{250, 500, 1000, 2000},
		Weighting:       weighting.TypeA,
		Calibration:     soundlevel.NewCalibration(0, nil),
		BlockDuration:   100 * time.Millisecond,
		PublishInterval: 500 * time.Millisecond,
		AveragingPeriod: time.Second,
		Trigger: trigger.Config{
			Specs:         []trigger.Spec{trigger.Band(1000, 60, time.Second)},
			Mode:          trigger.ModeOr,
			BlockDuration: 100 * time.Millisecond,
		},
		Recording: RecordingConfig{
			Enabled:  true,
			PreRoll:  500 * time.Millisecond,
			PostRoll: time.Second,
		},
	}
}

// loudBetween returns an amplitude function that is loud for blocks in [from, to).
func loudBetween(from, to int) func(int) float64 {
	return func(i int) float64 {
		if i >= from && i < to {
			return 0.5
		}
		return 1e-5
	}
}

func newTestPipeline(t *testing.T, src myaudio.Source, cfg *Config, sink *collectingSink, exporter Exporter) (*Pipeline, *Dispatcher) {
	t.Helper()
	m, err := metrics.NewAnalyzerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	d := NewDispatcher(DispatcherOptions{
		SpectrumSinks: []SpectrumSink{sink},
		EventSinks:    []EventSink{sink},
		Exporter:      exporter,
		Metrics:       m,
		SpectrumQueue: 256,
	})
	d.Start()

	p, err := New(Options{Source: src, Config: cfg, SampleRate: testRate, Dispatcher: d, Metrics: m})
	require.NoError(t, err)
	return p, d
}

func TestPipelineRecordsOneEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &syntheticSource{rate: testRate, amplitude: loudBetween(10, 40), blocks: 70, endErr: io.EOF}
	sink := &collectingSink{}
	p, d := newTestPipeline(t, src, testConfig(t), sink, nil)

	require.NoError(t, p.Run(context.Background()))
	d.Close()

	spectra, events := sink.snapshot()
	assert.Len(t, spectra, 14, "one spectrum every 5 blocks")
	for _, s := range spectra {
		assert.Equal(t, []string{"250", "500", "1000", "2000"}, s.Bands)
		assert.Equal(t, "A", s.Weighting)
	}

	require.Len(t, events, 1)
	rec := events[0].Record
	assert.Nil(t, events[0].Files)
	assert.Equal(t, recorder.ReasonCompleted, rec.Reason)
	assert.Equal(t, testRate, rec.SampleRate)
	// Hold starts at block 10 and completes at block 19; the pre-roll ring
	// retains the five blocks before the start.
	assert.Equal(t, testStart.Add(1500*time.Millisecond), rec.Start)
	assert.Equal(t, testStart.Add(2*time.Second), rec.TriggeredAt)
	assert.GreaterOrEqual(t, rec.Stats.RecordedDuration, 3500*time.Millisecond)
	assert.Greater(t, rec.Stats.PeakDB, 80.0)
	require.NotEmpty(t, rec.Triggers)
	assert.Equal(t, "band_1000", rec.Triggers[0].Label)
	assert.Len(t, rec.Samples(), len(rec.Frames)*800)

	st := p.Status()
	assert.False(t, st.Running)
	assert.Equal(t, rec.ID, st.LastEvent)
	assert.Equal(t, uint64(70), st.Blocks)
	assert.True(t, src.stopped)
}

func TestPipelineFlushesOnEndOfInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &syntheticSource{rate: testRate, amplitude: loudBetween(0, 30), blocks: 30, endErr: io.EOF}
	sink := &collectingSink{}
	p, d := newTestPipeline(t, src, testConfig(t), sink, nil)

	require.NoError(t, p.Run(context.Background()))
	d.Close()

	_, events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, recorder.ReasonShutdown, events[0].Record.Reason)
	require.NotEmpty(t, events[0].Record.Triggers)
	assert.True(t, events[0].Record.Triggers[0].Open)
}

func TestPipelineStreamLost(t *testing.T) {
	defer goleak.VerifyNone(t)

	lost := errors.New(myaudio.ErrStreamLost).
		Component("test").
		Category(errors.CategoryAudioSource).
		Build()
	src := &syntheticSource{rate: testRate, amplitude: loudBetween(0, 0), blocks: 5, endErr: lost}
	sink := &collectingSink{}
	p, d := newTestPipeline(t, src, testConfig(t), sink, nil)

	err := p.Run(context.Background())
	d.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, myaudio.ErrStreamLost)
}

func TestPipelineStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	src := &syntheticSource{rate: testRate, amplitude: loudBetween(0, 0), blocks: 1000, endErr: io.EOF}
	src.onBlock = func(i int) {
		if i == 20 {
			cancel()
		}
	}
	sink := &collectingSink{}
	p, d := newTestPipeline(t, src, testConfig(t), sink, nil)

	require.NoError(t, p.Run(ctx))
	d.Close()
	assert.Less(t, p.Status().Blocks, uint64(1000))
}

func TestPipelineRebuildsForActualSampleRate(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &syntheticSource{rate: 16000, amplitude: loudBetween(0, 0), blocks: 3, endErr: io.EOF}
	sink := &collectingSink{}
	p, d := newTestPipeline(t, src, testConfig(t), sink, nil)
	assert.Equal(t, testRate, p.Status().SampleRate)

	require.NoError(t, p.Run(context.Background()))
	d.Close()

	assert.Equal(t, 16000, p.Status().SampleRate)
	assert.Equal(t, 1600, p.eng.samples)
}

func TestPipelineReconfigureFlushesEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := testConfig(t)
	next.Weighting = weighting.TypeZ

	var p *Pipeline
	src := &syntheticSource{rate: testRate, amplitude: loudBetween(0, 40), blocks: 40, endErr: io.EOF}
	src.onBlock = func(i int) {
		if i == 20 {
			p.Reconfigure(next)
		}
	}
	sink := &collectingSink{}
	p, d := newTestPipeline(t, src, testConfig(t), sink, nil)

	require.NoError(t, p.Run(context.Background()))
	d.Close()

	_, events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, recorder.ReasonReconfigure, events[0].Record.Reason)
	assert.Equal(t, weighting.TypeA, events[0].Record.Weighting)
	assert.Equal(t, recorder.ReasonShutdown, events[1].Record.Reason)
	assert.Equal(t, weighting.TypeZ, events[1].Record.Weighting)
	assert.NotEqual(t, events[0].Record.ID, events[1].Record.ID)
	assert.Equal(t, next.Version, p.Status().ConfigVersion)
	assert.Equal(t, "Z", p.Status().Weighting)
}

func TestPipelineRejectsUnbuildableReconfiguration(t *testing.T) {
	defer goleak.VerifyNone(t)

	bad := testConfig(t)
	bad.Trigger.Specs = []trigger.Spec{
		trigger.Band(250, 1, 0), trigger.Band(500, 1, 0), trigger.Band(1000, 1, 0),
		trigger.Band(2000, 1, 0), trigger.Aggregate(1, 0),
	}

	var p *Pipeline
	src := &syntheticSource{rate: testRate, amplitude: loudBetween(0, 0), blocks: 10, endErr: io.EOF}
	src.onBlock = func(i int) {
		if i == 3 {
			p.Reconfigure(bad)
		}
	}
	cfg := testConfig(t)
	p, d := newTestPipeline(t, src, cfg, &collectingSink{}, nil)

	require.NoError(t, p.Run(context.Background()))
	d.Close()
	assert.Equal(t, cfg.Version, p.Status().ConfigVersion)
}

type fakeExporter struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeExporter) Export(_ context.Context, rec *recorder.EventRecord) (*export.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, rec.ID)
	return &export.Result{ID: rec.ID, Dir: "/events/" + rec.ID, Format: export.FormatWAV}, nil
}

func TestPipelineExportsBeforeEventSinks(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &syntheticSource{rate: testRate, amplitude: loudBetween(5, 30), blocks: 60, endErr: io.EOF}
	sink := &collectingSink{}
	exp := &fakeExporter{}
	p, d := newTestPipeline(t, src, testConfig(t), sink, exp)

	require.NoError(t, p.Run(context.Background()))
	d.Close()

	_, events := sink.snapshot()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Files)
	assert.Equal(t, events[0].Record.ID, events[0].Files.ID)
	assert.Equal(t, []string{events[0].Record.ID}, exp.ids)
}

func TestPipelineRecordingDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	cfg.Recording.Enabled = false
	src := &syntheticSource{rate: testRate, amplitude: loudBetween(0, 30), blocks: 30, endErr: io.EOF}
	sink := &collectingSink{}
	p, d := newTestPipeline(t, src, cfg, sink, nil)

	require.NoError(t, p.Run(context.Background()))
	d.Close()

	_, events := sink.snapshot()
	assert.Empty(t, events)
	st := p.Status()
	assert.Equal(t, "idle", st.Recorder)
	require.Len(t, st.Triggers, 1)
	assert.True(t, st.Triggers[0].Active)
}

func TestNewRequiresSourceAndConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Config: testConfig(t), SampleRate: testRate})
	require.Error(t, err)
	_, err = New(Options{Source: &syntheticSource{rate: testRate}, SampleRate: testRate})
	require.Error(t, err)
}
