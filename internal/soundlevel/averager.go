package soundlevel

import (
	"math"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"
)

// Spectrum is one averaged telemetry output.
type Spectrum struct {
	Timestamp       time.Time
	Centers         []float64
	Values          []float64 // dB per band
	Sum             float64   // dB, energy sum across bands
	Weighting       weighting.Type
	AveragingPeriod time.Duration
}

// SpectrumAverager averages per-band levels in the energy domain on two
// timescales: a publish-interval block average feeding a rolling window of
// the last N published averages.
type SpectrumAverager struct {
	centers   []float64
	weighting weighting.Type
	publish   time.Duration
	period    time.Duration
	window    int

	pending     []float64 // energy sums for the current publish interval
	pendingN    int
	pendingTime time.Duration

	rolling [][]float64 // published mean energies, oldest first
}

// NewSpectrumAverager creates an averager for the given bands. The rolling
// window holds max(1, round(period/publish)) published averages.
func NewSpectrumAverager(centers []float64, w weighting.Type, publish, period time.Duration) *SpectrumAverager {
	window := 1
	if publish > 0 {
		window = max(1, int(math.Round(float64(period)/float64(publish))))
	}
	return &SpectrumAverager{
		centers:   append([]float64(nil), centers...),
		weighting: w,
		publish:   publish,
		period:    period,
		window:    window,
		pending:   make([]float64, len(centers)),
		rolling:   make([][]float64, 0, window),
	}
}

// Window returns the rolling window length in published averages.
func (a *SpectrumAverager) Window() int { return a.window }

// Add accumulates one block of per-band levels (dB, index aligned with the
// averager's centers). When the publish interval is reached it flushes the
// interval average into the rolling window and returns the rolling output.
func (a *SpectrumAverager) Add(ts time.Time, values []float64, blockDur time.Duration) (Spectrum, bool) {
	for i := range a.pending {
		if i < len(values) {
			a.pending[i] += DBToEnergy(values[i])
		}
	}
	a.pendingN++
	a.pendingTime += blockDur

	if a.pendingTime < a.publish {
		return Spectrum{}, false
	}

	mean := make([]float64, len(a.pending))
	for i, e := range a.pending {
		mean[i] = e / float64(a.pendingN)
		a.pending[i] = 0
	}
	a.pendingN = 0
	// Carry the overshoot so the publish rate does not drift when the
	// interval is not a multiple of the block duration.
	if a.publish > 0 {
		a.pendingTime %= a.publish
	} else {
		a.pendingTime = 0
	}

	if len(a.rolling) == a.window {
		copy(a.rolling, a.rolling[1:])
		a.rolling = a.rolling[:a.window-1]
	}
	a.rolling = append(a.rolling, mean)

	return a.output(ts), true
}

func (a *SpectrumAverager) output(ts time.Time) Spectrum {
	out := Spectrum{
		Timestamp:       ts,
		Centers:         append([]float64(nil), a.centers...),
		Values:          make([]float64, len(a.centers)),
		Weighting:       a.weighting,
		AveragingPeriod: a.period,
	}

	total := 0.0
	for i := range a.centers {
		e := 0.0
		for _, row := range a.rolling {
			e += row[i]
		}
		e /= float64(len(a.rolling))
		out.Values[i] = EnergyToDB(e)
		total += e
	}
	out.Sum = EnergyToDB(total)
	return out
}

// Reset clears the publish and rolling buffers.
func (a *SpectrumAverager) Reset() {
	clear(a.pending)
	a.pendingN = 0
	a.pendingTime = 0
	a.rolling = a.rolling[:0]
}
