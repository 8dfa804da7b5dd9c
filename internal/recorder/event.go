package recorder

import (
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

// IDLayout formats event ids from the UTC trigger time. It is filesystem safe.
const IDLayout = "2006-01-02T15-04-05Z"

// Finalize reasons.
const (
	ReasonCompleted   = "completed"
	ReasonMaxLength   = "max_length"
	ReasonShutdown    = "shutdown"
	ReasonReconfigure = "reconfigure"
)

// Block is one fixed-size block of mono samples.
type Block struct {
	Seq       uint64
	Timestamp time.Time
	Duration  time.Duration
	Samples   []float64
}

// Frame pairs a block with the levels measured on it.
type Frame struct {
	Block    Block
	Snapshot soundlevel.LevelSnapshot
}

// Stats summarizes an event.
type Stats struct {
	PeakDB           float64            `json:"peak_db"`
	AvgDB            float64            `json:"avg_db"`
	BandPeaks        map[string]float64 `json:"band_peaks_db"`
	TriggerCount     int                `json:"trigger_count"`
	ActualDuration   time.Duration      `json:"-"`
	RecordedDuration time.Duration      `json:"-"`
	Truncated        bool               `json:"truncated"`
}

// EventRecord is the finalized output of one event. It is not mutated after
// the recorder hands it out.
type EventRecord struct {
	ID          string
	TriggeredAt time.Time
	Start       time.Time // first recorded block
	End         time.Time // end of the last tracked block
	SampleRate  int
	Weighting   weighting.Type
	Centers     []float64
	Frames      []Frame
	Triggers    []trigger.LogEntry
	Stats       Stats
	Reason      string
}

// Row is one CSV-ready level row.
type Row struct {
	Timestamp time.Time
	Values    []float64 // per band in the event weighting
	Sum       float64
}

// Samples concatenates the recorded audio.
func (e *EventRecord) Samples() []float64 {
	n := 0
	for i := range e.Frames {
		n += len(e.Frames[i].Block.Samples)
	}
	out := make([]float64, 0, n)
	for i := range e.Frames {
		out = append(out, e.Frames[i].Block.Samples...)
	}
	return out
}

// Rows returns one level row per recorded block.
func (e *EventRecord) Rows() []Row {
	rows := make([]Row, len(e.Frames))
	for i := range e.Frames {
		snap := &e.Frames[i].Snapshot
		rows[i] = Row{
			Timestamp: snap.Timestamp,
			Values:    snap.Values(e.Weighting),
			Sum:       snap.Sum(e.Weighting),
		}
	}
	return rows
}

// event is the mutable in-progress state behind an EventRecord.
type event struct {
	id          string
	triggeredAt time.Time
	frames      []Frame
	triggers    []trigger.LogEntry
	lastSeq     uint64
	hasFrames   bool
	recorded    time.Duration
	end         time.Time

	peak      float64
	energySum float64
	bandPeaks []float64

	finalized bool
}

func newEvent(id string, triggeredAt time.Time, bands int) *event {
	ev := &event{
		id:          id,
		triggeredAt: triggeredAt,
		peak:        -1e9,
		bandPeaks:   make([]float64, bands),
	}
	for i := range ev.bandPeaks {
		ev.bandPeaks[i] = -1e9
	}
	return ev
}

// append adds f unless it is not newer than the last appended block.
func (ev *event) append(f Frame, w weighting.Type) bool {
	if ev.hasFrames && f.Block.Seq <= ev.lastSeq {
		return false
	}
	ev.frames = append(ev.frames, f)
	ev.lastSeq = f.Block.Seq
	ev.hasFrames = true
	ev.recorded += f.Block.Duration
	ev.track(f)

	values := f.Snapshot.Values(w)
	sum := soundlevel.EnergySum(values)
	ev.peak = max(ev.peak, sum)
	ev.energySum += soundlevel.DBToEnergy(sum)
	for i, v := range values {
		if i < len(ev.bandPeaks) {
			ev.bandPeaks[i] = max(ev.bandPeaks[i], v)
		}
	}
	return true
}

// track extends the wall-clock end of the event.
func (ev *event) track(f Frame) {
	if end := f.Block.Timestamp.Add(f.Block.Duration); end.After(ev.end) {
		ev.end = end
	}
}

func (ev *event) record(cfg *Config, reason string, centers []float64) *EventRecord {
	rec := &EventRecord{
		ID:          ev.id,
		TriggeredAt: ev.triggeredAt,
		End:         ev.end,
		SampleRate:  cfg.SampleRate,
		Weighting:   cfg.Weighting,
		Centers:     append([]float64(nil), centers...),
		Frames:      append([]Frame(nil), ev.frames...),
		Triggers:    append([]trigger.LogEntry(nil), ev.triggers...),
		Reason:      reason,
	}
	if len(ev.frames) > 0 {
		rec.Start = ev.frames[0].Block.Timestamp
	}

	rec.Stats = Stats{
		TriggerCount:     len(ev.triggers),
		RecordedDuration: ev.recorded,
		ActualDuration:   ev.end.Sub(rec.Start),
		Truncated:        reason == ReasonMaxLength,
		BandPeaks:        make(map[string]float64, len(centers)),
	}
	if len(ev.frames) > 0 {
		rec.Stats.PeakDB = ev.peak
		rec.Stats.AvgDB = soundlevel.EnergyToDB(ev.energySum / float64(len(ev.frames)))
		for i, c := range centers {
			if i < len(ev.bandPeaks) {
				rec.Stats.BandPeaks[soundlevel.FormatBandKey(c)] = ev.bandPeaks[i]
			}
		}
	}
	return rec
}
