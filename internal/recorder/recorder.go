// Package recorder keeps pre-roll and post-roll history and turns sustained
// trigger conditions into finalized event records.
package recorder

import (
	"math"
	"strconv"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

// State is the recorder lifecycle state. Holding before a start is tracked
// by the trigger evaluator, not here.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePostRoll
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePostRoll:
		return "post_roll"
	default:
		return "unknown"
	}
}

// Config is the immutable recorder configuration.
type Config struct {
	SampleRate    int
	BlockDuration time.Duration
	PreRoll       time.Duration
	PostRoll      time.Duration
	MaxLength     time.Duration // zero disables the cap
	Weighting     weighting.Type
	Centers       []float64
}

// Result reports what one Process call did.
type Result struct {
	Started   string       // id of an event that started on this block
	Finalized *EventRecord // record finalized on this block, if any
}

// Recorder drives the event lifecycle. It is owned by the processing loop
// and is not safe for concurrent use.
type Recorder struct {
	cfg       Config
	pre       *Ring[Frame]
	post      *Ring[Frame]
	log       logger.Logger

	state       State
	ev          *event
	postElapsed time.Duration
	lastID      string
}

// New validates cfg and builds an idle recorder.
func New(cfg Config) (*Recorder, error) {
	if cfg.BlockDuration <= 0 {
		return nil, errors.Newf("block duration must be positive, got %v", cfg.BlockDuration).
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.PreRoll < 0 || cfg.PostRoll < 0 || cfg.MaxLength < 0 {
		return nil, errors.Newf("pre-roll, post-roll and max length must not be negative").
			Component("recorder").
			Category(errors.CategoryValidation).
			Context("pre_roll", cfg.PreRoll.String()).
			Context("post_roll", cfg.PostRoll.String()).
			Context("max_length", cfg.MaxLength.String()).
			Build()
	}

	preBlocks := blocksFor(cfg.PreRoll, cfg.BlockDuration)
	return &Recorder{
		cfg:       cfg,
		// The block that fires the start is always part of the event.
		pre:  NewRing[Frame](max(preBlocks, 1)),
		post: NewRing[Frame](blocksFor(cfg.PostRoll, cfg.BlockDuration)),
		log:  GetLogger(),
	}, nil
}

func blocksFor(d, block time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(block)))
}

// State returns the lifecycle state.
func (r *Recorder) State() State { return r.state }

// Current returns the id of the in-progress event, or "".
func (r *Recorder) Current() string {
	if r.ev == nil {
		return ""
	}
	return r.ev.id
}

// Process advances the state machine by one block.
func (r *Recorder) Process(f Frame, d trigger.Decision) Result {
	var res Result

	switch r.state {
	case StateIdle:
		r.pre.Push(f)
		if d.Start {
			res.Started = r.start(f, d)
			res.Finalized = r.checkMaxLength()
		}

	case StateRecording:
		r.collect(d.Closed)
		r.post.Push(f)
		r.appendFrame(f)
		if !d.Combined {
			r.state = StatePostRoll
			r.postElapsed = f.Block.Duration
			r.log.Debug("event entering post-roll", logger.String("event_id", r.ev.id))
		}
		res.Finalized = r.checkMaxLength()

	case StatePostRoll:
		r.collect(d.Closed)
		r.post.Push(f)
		r.ev.track(f)
		if d.Combined {
			// Condition is back: keep the pending post-roll blocks and continue.
			r.appendPending()
			r.state = StateRecording
			r.postElapsed = 0
			r.log.Debug("event resumed from post-roll", logger.String("event_id", r.ev.id))
			res.Finalized = r.checkMaxLength()
		} else {
			r.postElapsed += f.Block.Duration
		}
	}

	if r.state == StatePostRoll && r.postElapsed >= r.cfg.PostRoll {
		if rec := r.complete(d.Open); rec != nil {
			res.Finalized = rec
		}
	}

	return res
}

// Flush finalizes an in-progress event immediately, for shutdown or
// reconfiguration. It returns nil when there is nothing to finalize.
func (r *Recorder) Flush(reason string, open []trigger.LogEntry) *EventRecord {
	if r.state == StateIdle || r.ev == nil {
		return nil
	}
	r.appendPending()
	r.ev.triggers = append(r.ev.triggers, open...)
	rec := r.finalize(reason)
	r.toIdle()
	return rec
}

func (r *Recorder) start(f Frame, d trigger.Decision) string {
	triggeredAt := f.Block.Timestamp.Add(f.Block.Duration).UTC()
	id := triggeredAt.Format(IDLayout)
	if id == r.lastID {
		id += "-" + strconv.FormatUint(f.Block.Seq, 10)
	}

	r.ev = newEvent(id, triggeredAt, len(r.cfg.Centers))
	r.post.Reset()
	r.postElapsed = 0
	r.state = StateRecording

	// The ring holds the pre-roll's worth of frames up to and including the one
	// that completed the hold; all of it is the pre-roll.
	for i := range r.pre.Len() {
		r.appendFrame(r.pre.At(i))
	}
	r.pre.Reset()

	r.log.Info("event started",
		logger.String("event_id", id),
		logger.Time("hold_start", d.HoldStartTime),
		logger.Uint64("hold_start_seq", d.HoldStartSeq),
		logger.Duration("hold", d.Hold),
		logger.Int("pre_roll_blocks", len(r.ev.frames)))
	return id
}

func (r *Recorder) appendFrame(f Frame) {
	if r.ev.finalized {
		r.ev.track(f)
		return
	}
	r.ev.append(f, r.cfg.Weighting)
}

// appendPending moves post-roll blocks newer than the last appended block
// into the event.
func (r *Recorder) appendPending() {
	for i := range r.post.Len() {
		r.appendFrame(r.post.At(i))
	}
}

func (r *Recorder) collect(closed []trigger.LogEntry) {
	if r.ev == nil || len(closed) == 0 {
		return
	}
	r.ev.triggers = append(r.ev.triggers, closed...)
}

func (r *Recorder) checkMaxLength() *EventRecord {
	if r.cfg.MaxLength <= 0 || r.ev == nil || r.ev.finalized {
		return nil
	}
	if r.ev.recorded < r.cfg.MaxLength {
		return nil
	}
	r.log.Info("event reached maximum length, finalizing early",
		logger.String("event_id", r.ev.id),
		logger.Duration("recorded", r.ev.recorded))
	return r.finalize(ReasonMaxLength)
}

func (r *Recorder) complete(open []trigger.LogEntry) *EventRecord {
	r.appendPending()
	if !r.ev.finalized {
		r.ev.triggers = append(r.ev.triggers, open...)
	}
	rec := r.finalize(ReasonCompleted)
	r.toIdle()
	return rec
}

// finalize produces the record once per event; later calls return nil.
func (r *Recorder) finalize(reason string) *EventRecord {
	if r.ev.finalized || r.ev.id == r.lastID {
		return nil
	}
	r.ev.finalized = true
	r.lastID = r.ev.id

	rec := r.ev.record(&r.cfg, reason, r.cfg.Centers)
	r.log.Info("event finalized",
		logger.String("event_id", rec.ID),
		logger.String("reason", reason),
		logger.Duration("recorded", rec.Stats.RecordedDuration),
		logger.Float64("peak_db", rec.Stats.PeakDB),
		logger.Int("triggers", rec.Stats.TriggerCount))
	return rec
}

// toIdle returns to IDLE, seeding the pre-roll ring with the most recent
// post-roll history so back-to-back events keep their context.
func (r *Recorder) toIdle() {
	r.pre.Reset()
	for i := range r.post.Len() {
		r.pre.Push(r.post.At(i))
	}
	r.post.Reset()
	r.ev = nil
	r.postElapsed = 0
	r.state = StateIdle
}
