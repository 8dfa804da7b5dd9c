package trigger

import (
	"math"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
)

// Config is the immutable evaluator configuration.
type Config struct {
	Specs         []Spec
	Mode          Mode
	BlockDuration time.Duration
	DefaultHold   time.Duration // zero means DefaultHold
}

// Input carries the measurements of one processed block.
type Input struct {
	Timestamp     time.Time
	Snapshot      *soundlevel.LevelSnapshot
	Aggregate     float64 // latest telemetry sum level (dB)
	Sequence      uint64  // monotonically increasing block number
	BlockDuration time.Duration
}

// LogEntry records one ACTIVE period of a trigger.
type LogEntry struct {
	Label      string
	Start      time.Time
	StartLevel float64
	Duration   time.Duration
	Open       bool // still active when the log was taken
}

// Decision is the evaluator output for one block.
type Decision struct {
	Combined      bool
	Start         bool   // hold reached the required duration on this block
	HoldStartSeq  uint64 // sequence of the block where the hold began
	HoldStartTime time.Time
	Hold          time.Duration
	Required      time.Duration
	Closed        []LogEntry // triggers that turned INACTIVE on this block
	Open          []LogEntry // triggers still ACTIVE after this block
}

// State is a read-only view of one trigger for status queries.
type State struct {
	Label      string    `json:"label"`
	Kind       string    `json:"kind"`
	Active     bool      `json:"active"`
	Unresolved bool      `json:"unresolved"`
	Since      time.Time `json:"since,omitzero"`
	StartLevel float64   `json:"start_level_db,omitempty"`
}

type specState struct {
	spec  Spec
	label string

	active     bool
	start      time.Time
	startLevel float64
	unresolved bool

	// Prominence window; sized once per configuration.
	window []bool
	pos    int
	filled int
}

// Evaluator tracks per-trigger state and the combined hold. It is owned by
// the processing loop and is not safe for concurrent use.
type Evaluator struct {
	mode     Mode
	required time.Duration
	states   []*specState
	log      logger.Logger

	hold          time.Duration
	holdStartSeq  uint64
	holdStartTime time.Time
	started       bool
}

// NewEvaluator validates cfg and builds an evaluator. Disabled specs are
// dropped; they take no part in evaluation.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := Validate(cfg.Specs); err != nil {
		return nil, err
	}

	fallback := cfg.DefaultHold
	if fallback <= 0 {
		fallback = DefaultHold
	}

	e := &Evaluator{
		mode:     cfg.Mode,
		required: RequiredHold(cfg.Specs, cfg.Mode, fallback),
		log:      GetLogger(),
	}

	for _, s := range cfg.Specs {
		if !s.Enabled() {
			continue
		}
		st := &specState{spec: s, label: s.Label()}
		if s.Kind == KindProminent {
			n := 1
			if cfg.BlockDuration > 0 {
				n = max(1, int(math.Round(float64(s.MinDuration)/float64(cfg.BlockDuration))))
			}
			st.window = make([]bool, n)
		}
		e.states = append(e.states, st)
	}

	return e, nil
}

// Required returns the hold duration needed to start an event.
func (e *Evaluator) Required() time.Duration { return e.required }

// Enabled returns the number of enabled triggers.
func (e *Evaluator) Enabled() int { return len(e.states) }

// Evaluate updates every trigger with one block of measurements.
func (e *Evaluator) Evaluate(in Input) Decision {
	var d Decision
	d.Required = e.required

	evaluated, active := 0, 0
	for _, st := range e.states {
		level, on, ok := e.measure(st, in)
		if !ok {
			if !st.unresolved {
				st.unresolved = true
				e.log.Warn("trigger target not in band set, trigger disabled",
					logger.String("trigger", st.label))
			}
			if st.active {
				d.Closed = append(d.Closed, st.close(in.Timestamp))
			}
			continue
		}
		if st.unresolved {
			st.unresolved = false
			e.log.Info("trigger target resolved again", logger.String("trigger", st.label))
		}
		evaluated++

		switch {
		case on && !st.active:
			st.active = true
			st.start = in.Timestamp
			st.startLevel = level
			e.log.Debug("trigger active",
				logger.String("trigger", st.label),
				logger.Float64("level_db", level))
		case !on && st.active:
			entry := st.close(in.Timestamp)
			d.Closed = append(d.Closed, entry)
			e.log.Debug("trigger inactive",
				logger.String("trigger", st.label),
				logger.Duration("duration", entry.Duration))
		}
		if st.active {
			active++
		}
	}

	switch {
	case evaluated == 0:
		d.Combined = false
	case e.mode == ModeAnd:
		d.Combined = active == evaluated
	default:
		d.Combined = active > 0
	}

	if d.Combined {
		if e.hold == 0 {
			e.holdStartSeq = in.Sequence
			e.holdStartTime = in.Timestamp
		}
		e.hold += in.BlockDuration
		if !e.started && e.hold >= e.required {
			e.started = true
			d.Start = true
		}
	} else {
		e.hold = 0
		e.started = false
	}

	if active > 0 {
		d.Open = e.Open(in.Timestamp)
	}
	d.Hold = e.hold
	d.HoldStartSeq = e.holdStartSeq
	d.HoldStartTime = e.holdStartTime
	return d
}

// measure returns the spec's level and instantaneous condition. ok is false
// when the spec cannot be resolved against the current band set.
func (e *Evaluator) measure(st *specState, in Input) (level float64, on, ok bool) {
	switch st.spec.Kind {
	case KindAggregate:
		return in.Aggregate, in.Aggregate >= st.spec.Threshold, true

	case KindBand:
		if in.Snapshot == nil {
			return 0, false, false
		}
		lv, found := in.Snapshot.Level(st.spec.Frequency)
		if !found {
			return 0, false, false
		}
		return lv.A, lv.A >= st.spec.Threshold, true

	case KindProminent:
		if in.Snapshot == nil {
			return 0, false, false
		}
		level, prominent, resolved := prominence(in.Snapshot, st.spec.FrequencyA, st.spec.FrequencyB)
		if !resolved {
			return 0, false, false
		}
		st.push(prominent)
		return level, st.windowFull(), true
	}
	return 0, false, false
}

// prominence reports whether either candidate is strictly the loudest band.
func prominence(snap *soundlevel.LevelSnapshot, a, b float64) (level float64, prominent, resolved bool) {
	values := snap.Values(weighting.TypeA)
	for _, f := range []float64{a, b} {
		if f <= 0 || !snap.Has(f) {
			continue
		}
		resolved = true
		lv, _ := snap.Level(f)
		strict := true
		for i, v := range values {
			if sameBand(snap.Centers[i], f) {
				continue
			}
			if v >= lv.A {
				strict = false
				break
			}
		}
		if strict {
			return lv.A, true, true
		}
		level = max(level, lv.A)
	}
	return level, false, resolved
}

func sameBand(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(a, b)
}

func (st *specState) push(v bool) {
	st.window[st.pos] = v
	st.pos = (st.pos + 1) % len(st.window)
	if st.filled < len(st.window) {
		st.filled++
	}
	if !v {
		// One miss restarts the count; the window must fill again.
		st.filled = 0
	}
}

func (st *specState) windowFull() bool {
	if st.filled < len(st.window) {
		return false
	}
	for _, v := range st.window {
		if !v {
			return false
		}
	}
	return true
}

func (st *specState) close(now time.Time) LogEntry {
	entry := LogEntry{
		Label:      st.label,
		Start:      st.start,
		StartLevel: st.startLevel,
		Duration:   now.Sub(st.start),
	}
	st.active = false
	st.start = time.Time{}
	st.startLevel = 0
	return entry
}

// Open returns log entries for triggers that are currently active, with
// durations measured up to now.
func (e *Evaluator) Open(now time.Time) []LogEntry {
	var out []LogEntry
	for _, st := range e.states {
		if !st.active {
			continue
		}
		out = append(out, LogEntry{
			Label:      st.label,
			Start:      st.start,
			StartLevel: st.startLevel,
			Duration:   now.Sub(st.start),
			Open:       true,
		})
	}
	return out
}

// Active returns a snapshot of every enabled trigger.
func (e *Evaluator) Active() []State {
	out := make([]State, len(e.states))
	for i, st := range e.states {
		out[i] = State{
			Label:      st.label,
			Kind:       st.spec.Kind.String(),
			Active:     st.active,
			Unresolved: st.unresolved,
			Since:      st.start,
			StartLevel: st.startLevel,
		}
	}
	return out
}
