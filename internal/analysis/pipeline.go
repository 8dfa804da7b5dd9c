package analysis

import (
	"context"
	"io"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/myaudio"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/recorder"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

// Options configures a Pipeline.
type Options struct {
	Source     myaudio.Source
	Config     *Config
	SampleRate int // nominal rate used until the source reports its own
	Dispatcher *Dispatcher
	Metrics    *metrics.AnalyzerMetrics
}

// Pipeline is the processing loop. Run owns all filter, trigger and recorder
// state; other goroutines only touch the pending configuration and the
// published status.
type Pipeline struct {
	source     myaudio.Source
	dispatcher *Dispatcher
	metrics    *metrics.AnalyzerMetrics
	log        logger.Logger

	pending atomic.Pointer[Config]
	status  atomic.Pointer[Status]

	overrunWarn *rate.Limiter
	dropWarn    *rate.Limiter

	// Owned by Run.
	eng         *engine
	seq         uint64
	blocks      uint64
	overruns    uint64
	lastDropped uint64
	lastEvent   string
	clock       time.Time // end of the last processed block
}

// engine is the core state built from one Config at one sample rate.
type engine struct {
	cfg        *Config
	sampleRate int
	samples    int

	filters   *soundlevel.FilterBank
	levels    *soundlevel.LevelComputer
	averager  *soundlevel.SpectrumAverager
	evaluator *trigger.Evaluator
	recorder  *recorder.Recorder // nil when recording is disabled

	bands     []string
	aggregate float64
	spectrum  *SpectrumPayload
}

// New validates the configuration against the nominal sample rate and
// returns an idle pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil || opts.Config == nil {
		return nil, errors.Newf("pipeline needs a source and a configuration").
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}

	eng, err := newEngine(opts.Config, opts.SampleRate)
	if err != nil {
		return nil, err
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher(DispatcherOptions{Metrics: opts.Metrics})
	}

	p := &Pipeline{
		source:      opts.Source,
		dispatcher:  dispatcher,
		metrics:     opts.Metrics,
		log:         GetLogger().With(logger.String("source", opts.Source.Name())),
		overrunWarn: rate.NewLimiter(rate.Every(30*time.Second), 1),
		dropWarn:    rate.NewLimiter(rate.Every(30*time.Second), 1),
		eng:         eng,
	}
	p.pending.Store(opts.Config)
	p.status.Store(&Status{
		Source:        opts.Source.Name(),
		SampleRate:    eng.sampleRate,
		ConfigVersion: opts.Config.Version,
		BlockDuration: opts.Config.BlockDuration.Seconds(),
		Weighting:     opts.Config.Weighting.String(),
		Bands:         eng.bands,
		Recorder:      recorder.StateIdle.String(),
	})
	return p, nil
}

func newEngine(cfg *Config, sampleRate int) (*engine, error) {
	fb, err := soundlevel.NewFilterBank(float64(sampleRate), cfg.Centers)
	if err != nil {
		return nil, err
	}
	centers := fb.Centers()

	eval, err := trigger.NewEvaluator(cfg.Trigger)
	if err != nil {
		return nil, err
	}

	eng := &engine{
		cfg:        cfg,
		sampleRate: sampleRate,
		samples:    cfg.BlockSamples(sampleRate),
		filters:    fb,
		levels:     soundlevel.NewLevelComputer(fb.Bands(), cfg.Calibration),
		averager:   soundlevel.NewSpectrumAverager(centers, cfg.Weighting, cfg.PublishInterval, cfg.AveragingPeriod),
		evaluator:  eval,
		bands:      make([]string, len(centers)),
		aggregate:  math.Inf(-1),
	}
	for i, c := range centers {
		eng.bands[i] = soundlevel.FormatBandKey(c)
	}

	if cfg.Recording.Enabled {
		eng.recorder, err = recorder.New(recorder.Config{
			SampleRate:    sampleRate,
			BlockDuration: cfg.BlockDuration,
			PreRoll:       cfg.Recording.PreRoll,
			PostRoll:      cfg.Recording.PostRoll,
			MaxLength:     cfg.Recording.MaxLength,
			Weighting:     cfg.Weighting,
			Centers:       centers,
		})
		if err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// Reconfigure schedules cfg. The loop applies it at the next block
// boundary, finalizing any in-progress event first.
func (p *Pipeline) Reconfigure(cfg *Config) {
	if cfg == nil {
		return
	}
	p.pending.Store(cfg)
	p.log.Info("reconfiguration scheduled", logger.Uint64("config_version", cfg.Version))
}

// Status returns the latest published status. The result must not be modified.
func (p *Pipeline) Status() *Status {
	return p.status.Load()
}

// Run starts the source and processes blocks until ctx ends, the source
// reaches the end of its input or the stream is lost. Cancellation and end
// of input return nil after finalizing any in-progress event; a lost stream
// returns an error wrapping myaudio.ErrStreamLost.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.source.Stop(); err != nil {
			p.log.Warn("failed to stop audio source", logger.Error(err))
		}
	}()

	if actual := p.source.SampleRate(); actual > 0 && actual != p.eng.sampleRate {
		p.log.Info("rebuilding filters for actual sample rate",
			logger.Int("nominal", p.eng.sampleRate),
			logger.Int("actual", actual))
		eng, err := newEngine(p.eng.cfg, actual)
		if err != nil {
			return err
		}
		p.eng = eng
	}
	p.metrics.SetConfig(p.eng.cfg.Version, p.eng.sampleRate)
	p.log.Info("processing started",
		logger.Int("sample_rate", p.eng.sampleRate),
		logger.Int("block_samples", p.eng.samples),
		logger.Int("bands", len(p.eng.bands)),
		logger.Int("triggers", p.eng.evaluator.Enabled()))

	for {
		if next := p.pending.Load(); next != p.eng.cfg {
			p.applyConfig(next)
		}

		block, err := p.source.ReadBlock(ctx, p.eng.samples)
		if err != nil {
			return p.stop(ctx, err)
		}

		started := time.Now()
		p.process(block)
		p.account(time.Since(started))
	}
}

// stop finalizes the in-progress event and maps the read error to the
// result of Run.
func (p *Pipeline) stop(ctx context.Context, err error) error {
	p.flush(recorder.ReasonShutdown)
	p.publishStopped()

	switch {
	case errors.Is(err, io.EOF):
		p.log.Info("end of input reached", logger.Uint64("blocks", p.blocks))
		return nil
	case ctx.Err() != nil:
		p.log.Info("processing stopped", logger.Uint64("blocks", p.blocks))
		return nil
	case errors.Is(err, myaudio.ErrStreamLost):
		p.log.Error("audio stream lost", logger.Error(err))
		return err
	default:
		p.log.Error("audio source read failed", logger.Error(err))
		return err
	}
}

// process runs one block through filter, level, averager, trigger and
// recorder, then publishes the outputs.
func (p *Pipeline) process(block myaudio.Block) {
	eng := p.eng
	seq := p.seq
	p.seq++
	dur := block.Duration(eng.sampleRate)
	p.clock = block.Timestamp.Add(dur)

	filtered := eng.filters.Process(block.Samples)
	snap := eng.levels.Compute(block.Timestamp, filtered)

	if spec, ok := eng.averager.Add(block.Timestamp, snap.Values(eng.cfg.Weighting), dur); ok {
		eng.aggregate = spec.Sum
		payload := NewSpectrumPayload(&spec)
		eng.spectrum = &payload
		p.metrics.SetSpectrum(payload.Bands, payload.Values, payload.Sum)
		p.dispatcher.PublishSpectrum(payload)
	}

	decision := eng.evaluator.Evaluate(trigger.Input{
		Timestamp:     block.Timestamp,
		Snapshot:      &snap,
		Aggregate:     eng.aggregate,
		Sequence:      seq,
		BlockDuration: dur,
	})

	if eng.recorder != nil {
		res := eng.recorder.Process(recorder.Frame{
			Block: recorder.Block{
				Seq:       seq,
				Timestamp: block.Timestamp,
				Duration:  dur,
				Samples:   block.Samples,
			},
			Snapshot: snap,
		}, decision)
		if res.Started != "" {
			p.metrics.RecordEventStarted()
		}
		p.finalized(res.Finalized)
	}

	p.publishStatus(&snap, &decision)
}

// account tracks processing time and capture drops for one block.
func (p *Pipeline) account(elapsed time.Duration) {
	p.blocks++
	budget := p.eng.cfg.BlockDuration
	overrun := elapsed > budget
	if overrun {
		p.overruns++
		if p.overrunWarn.Allow() {
			p.log.Warn("block processing exceeded block duration",
				logger.Duration("elapsed", elapsed),
				logger.Duration("block_duration", budget),
				logger.Uint64("overruns", p.overruns))
		}
	}
	p.metrics.RecordBlock(elapsed.Seconds(), overrun)

	if dropped := p.source.Dropped(); dropped > p.lastDropped {
		delta := dropped - p.lastDropped
		p.lastDropped = dropped
		p.metrics.AddDroppedSamples(delta)
		if p.dropWarn.Allow() {
			p.log.Warn("capture buffer overflow, samples dropped",
				logger.Uint64("dropped", delta),
				logger.Uint64("total_dropped", dropped))
		}
	}
}

// applyConfig swaps in cfg at a block boundary. A configuration that cannot
// be built at the current sample rate is rejected and the old one stays.
func (p *Pipeline) applyConfig(cfg *Config) {
	eng, err := newEngine(cfg, p.eng.sampleRate)
	if err != nil {
		p.log.Error("reconfiguration rejected, keeping current configuration",
			logger.Uint64("config_version", cfg.Version),
			logger.Error(err))
		// Keep the running config as the pending one so the swap is not retried.
		p.pending.CompareAndSwap(cfg, p.eng.cfg)
		return
	}

	p.flush(recorder.ReasonReconfigure)
	p.eng = eng
	p.metrics.ResetTriggers()
	p.metrics.SetConfig(cfg.Version, eng.sampleRate)
	p.log.Info("configuration applied",
		logger.Uint64("config_version", cfg.Version),
		logger.Int("block_samples", eng.samples),
		logger.Int("bands", len(eng.bands)),
		logger.Int("triggers", eng.evaluator.Enabled()))
}

// flush force-finalizes an in-progress event.
func (p *Pipeline) flush(reason string) {
	if p.eng.recorder == nil {
		return
	}
	p.finalized(p.eng.recorder.Flush(reason, p.eng.evaluator.Open(p.clock)))
}

func (p *Pipeline) finalized(rec *recorder.EventRecord) {
	if rec == nil {
		return
	}
	p.lastEvent = rec.ID
	p.metrics.RecordEventFinalized(rec.Reason, rec.Stats.RecordedDuration.Seconds())
	p.dispatcher.PublishEvent(rec)
}

func (p *Pipeline) publishStatus(snap *soundlevel.LevelSnapshot, d *trigger.Decision) {
	eng := p.eng
	st := &Status{
		UpdatedAt:     snap.Timestamp,
		Running:       true,
		Source:        p.source.Name(),
		SampleRate:    eng.sampleRate,
		ConfigVersion: eng.cfg.Version,
		BlockDuration: eng.cfg.BlockDuration.Seconds(),
		Blocks:        p.blocks + 1,
		Dropped:       p.source.Dropped(),
		Overruns:      p.overruns,
		Weighting:     eng.cfg.Weighting.String(),
		Bands:         eng.bands,
		Levels:        make([]float64, len(snap.Levels)),
		Sum:           round2(snap.Sum(eng.cfg.Weighting)),
		Spectrum:      eng.spectrum,
		Triggers:      eng.evaluator.Active(),
		Combined:      d.Combined,
		Hold:          d.Hold.Seconds(),
		Required:      d.Required.Seconds(),
		Recorder:      recorder.StateIdle.String(),
		LastEvent:     p.lastEvent,
	}
	for i, v := range snap.Values(eng.cfg.Weighting) {
		st.Levels[i] = round2(v)
	}
	if eng.recorder != nil {
		st.Recorder = eng.recorder.State().String()
		st.EventID = eng.recorder.Current()
		p.metrics.SetRecorderState(int(eng.recorder.State()))
	}
	for _, t := range st.Triggers {
		p.metrics.SetTriggerActive(t.Label, t.Active)
	}
	p.status.Store(st)
}

func (p *Pipeline) publishStopped() {
	prev := p.status.Load()
	st := *prev
	st.Running = false
	st.Recorder = recorder.StateIdle.String()
	st.EventID = ""
	st.LastEvent = p.lastEvent
	p.status.Store(&st)
}
