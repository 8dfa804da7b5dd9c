package analysis

import (
	"math"
	"time"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

// SpectrumPayload is the wire form of one averaged spectrum, shared by the
// MQTT publisher, the SSE stream and the status API.
type SpectrumPayload struct {
	Bands     []string  `json:"bands"`
	Values    []float64 `json:"values"`
	Sum       float64   `json:"sum"`
	Weighting string    `json:"weighting"`
	AvgPeriod float64   `json:"avg_period_s"`
	Timestamp time.Time `json:"ts"`
}

// NewSpectrumPayload converts an averaged spectrum, rounding levels to
// hundredths of a dB.
func NewSpectrumPayload(s *soundlevel.Spectrum) SpectrumPayload {
	p := SpectrumPayload{
		Bands:     make([]string, len(s.Centers)),
		Values:    make([]float64, len(s.Values)),
		Sum:       round2(s.Sum),
		Weighting: s.Weighting.String(),
		AvgPeriod: s.AveragingPeriod.Seconds(),
		Timestamp: s.Timestamp.UTC(),
	}
	for i, c := range s.Centers {
		p.Bands[i] = soundlevel.FormatBandKey(c)
	}
	for i, v := range s.Values {
		p.Values[i] = round2(v)
	}
	return p
}

// Status is an immutable snapshot of the processing loop, published after
// every block and read lock-free by the status API.
type Status struct {
	UpdatedAt     time.Time `json:"updated_at"`
	Running       bool      `json:"running"`
	Source        string    `json:"source"`
	SampleRate    int       `json:"sample_rate"`
	ConfigVersion uint64    `json:"config_version"`
	BlockDuration float64   `json:"block_duration_s"`

	Blocks   uint64 `json:"blocks"`
	Dropped  uint64 `json:"dropped_samples"`
	Overruns uint64 `json:"overruns"`

	Weighting string    `json:"weighting"`
	Bands     []string  `json:"bands"`
	Levels    []float64 `json:"levels_db"`
	Sum       float64   `json:"sum_db"`

	Spectrum *SpectrumPayload `json:"spectrum,omitempty"`

	Triggers []trigger.State `json:"triggers"`
	Combined bool            `json:"combined"`
	Hold     float64         `json:"hold_s"`
	Required float64         `json:"required_s"`

	Recorder  string `json:"recorder_state"`
	EventID   string `json:"event_id,omitempty"`
	LastEvent string `json:"last_event,omitempty"`
}

func round2(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return math.Round(v*100) / 100
}
