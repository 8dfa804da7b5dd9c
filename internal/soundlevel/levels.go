package soundlevel

import (
	"math"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"
)

const (
	// ReferencePressure is the SPL reference, 20 µPa.
	ReferencePressure = 20e-6
	// rmsFloor keeps silent blocks away from log10(0).
	rmsFloor = 1e-20
)

// Levels holds the three weighted levels of one band in dB.
type Levels struct {
	Z float64 `json:"z"`
	A float64 `json:"a"`
	C float64 `json:"c"`
}

// Get returns the level for w; anything other than A or C reads Z.
func (l Levels) Get(w weighting.Type) float64 {
	switch w {
	case weighting.TypeA:
		return l.A
	case weighting.TypeC:
		return l.C
	default:
		return l.Z
	}
}

// LevelSnapshot is the per-band level state of one processed block.
// Centers and Levels are index aligned and sorted by center.
type LevelSnapshot struct {
	Timestamp time.Time
	Centers   []float64
	Levels    []Levels
}

// Level returns the levels for center. Centers that are not part of the
// snapshot read as zero with ok=false.
func (s *LevelSnapshot) Level(center float64) (Levels, bool) {
	i := indexOfCenter(s.Centers, center)
	if i < 0 {
		return Levels{}, false
	}
	return s.Levels[i], true
}

// Has reports whether center belongs to the snapshot's band set.
func (s *LevelSnapshot) Has(center float64) bool {
	return indexOfCenter(s.Centers, center) >= 0
}

// Values returns the per-band levels for w in center order.
func (s *LevelSnapshot) Values(w weighting.Type) []float64 {
	out := make([]float64, len(s.Levels))
	for i, l := range s.Levels {
		out[i] = l.Get(w)
	}
	return out
}

// Sum returns the energy sum across bands for w.
func (s *LevelSnapshot) Sum(w weighting.Type) float64 {
	return EnergySum(s.Values(w))
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *LevelSnapshot) Clone() LevelSnapshot {
	c := LevelSnapshot{Timestamp: s.Timestamp}
	c.Centers = append([]float64(nil), s.Centers...)
	c.Levels = append([]Levels(nil), s.Levels...)
	return c
}

// EnergySum adds levels in the energy domain and returns the total in dB.
// A total without positive energy reports 0 dB.
func EnergySum(levels []float64) float64 {
	total := 0.0
	for _, db := range levels {
		total += DBToEnergy(db)
	}
	return EnergyToDB(total)
}

// DBToEnergy converts a level to linear energy.
func DBToEnergy(db float64) float64 {
	return math.Pow(10, db/10)
}

// EnergyToDB converts linear energy to dB, 0 dB for non-positive energy.
func EnergyToDB(e float64) float64 {
	if e <= 0 || math.IsNaN(e) {
		return 0
	}
	return 10 * math.Log10(e)
}

// LevelComputer turns filtered band signals into calibrated Z/A/C levels.
type LevelComputer struct {
	bands   []Band
	centers []float64
	offset  float64
}

// NewLevelComputer caches the weighting and calibration corrections for
// bands. A nil calibration applies no correction.
func NewLevelComputer(bands []Band, cal *Calibration) *LevelComputer {
	lc := &LevelComputer{
		bands:   make([]Band, len(bands)),
		centers: make([]float64, len(bands)),
		offset:  cal.Offset(),
	}
	for i, b := range bands {
		b.Correction = cal.Correction(b.Center)
		lc.bands[i] = b
		lc.centers[i] = b.Center
	}
	return lc
}

// Bands returns the bands with their cached corrections.
func (lc *LevelComputer) Bands() []Band {
	return append([]Band(nil), lc.bands...)
}

// Compute converts one block of filtered output, index aligned with the
// computer's bands, into a snapshot. Missing band outputs read 0 dB.
func (lc *LevelComputer) Compute(ts time.Time, filtered [][]float64) LevelSnapshot {
	snap := LevelSnapshot{
		Timestamp: ts,
		Centers:   append([]float64(nil), lc.centers...),
		Levels:    make([]Levels, len(lc.bands)),
	}
	for i, b := range lc.bands {
		if i >= len(filtered) || len(filtered[i]) == 0 {
			continue
		}
		z := RMSToDB(RMS(filtered[i])) + lc.offset + b.Correction
		snap.Levels[i] = Levels{Z: z, A: z + b.AWeight, C: z + b.CWeight}
	}
	return snap
}

// RMS returns the root mean square of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var acc float64
	for _, v := range samples {
		acc += v * v
	}
	return math.Sqrt(acc / float64(len(samples)))
}

// RMSToDB converts a normalized RMS value to dB SPL with the silence floor.
func RMSToDB(rms float64) float64 {
	if !isFinite(rms) {
		rms = 0
	}
	return 20 * math.Log10(math.Max(rms, rmsFloor)/ReferencePressure)
}
