// Package soundlevel implements fractional-octave band filtering, calibrated
// Z/A/C level computation and energy-domain spectrum averaging.
package soundlevel

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

// Scheme selects the nominal center frequency table.
type Scheme string

const (
	SchemeOctave      Scheme = "1-octave"
	SchemeHalfOctave  Scheme = "1/2-octave"
	SchemeThirdOctave Scheme = "1/3-octave"
)

// BandEdgeRatio is the ratio between a band center and its passband edges.
// 2^(1/6) yields third-octave bandwidth regardless of the center table.
var BandEdgeRatio = math.Pow(2, 1.0/6.0)

// maxEdgeFraction keeps upper band edges strictly below Nyquist so the
// bilinear pre-warp stays finite.
const maxEdgeFraction = 0.98

// Nominal center frequencies (IEC 61260 preferred values).
var nominalCenters = map[Scheme][]float64{
	SchemeOctave: {
		31.5, 63, 125, 250, 500, 1000, 2000, 4000, 8000, 16000,
	},
	SchemeHalfOctave: {
		31.5, 45, 63, 90, 125, 180, 250, 355, 500, 710, 1000, 1400,
		2000, 2800, 4000, 5600, 8000, 11200, 16000,
	},
	SchemeThirdOctave: {
		20, 25, 31.5, 40, 50, 63, 80, 100, 125, 160, 200, 250, 315, 400,
		500, 630, 800, 1000, 1250, 1600, 2000, 2500, 3150, 4000, 5000,
		6300, 8000, 10000, 12500, 16000, 20000,
	},
}

// ParseScheme accepts the configured band scheme selector.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1-octave", "1/1-octave", "octave", "1/1":
		return SchemeOctave, nil
	case "1/2-octave", "half-octave", "1/2":
		return SchemeHalfOctave, nil
	case "1/3-octave", "third-octave", "1/3", "":
		return SchemeThirdOctave, nil
	default:
		return "", errors.Newf("unknown band scheme %q", s).
			Component("soundlevel").
			Category(errors.CategoryValidation).
			Context("scheme", s).
			Build()
	}
}

// BandCenters returns the strictly increasing nominal centers of scheme
// that fall within [minHz, maxHz].
func BandCenters(scheme Scheme, minHz, maxHz float64) ([]float64, error) {
	table, ok := nominalCenters[scheme]
	if !ok {
		return nil, errors.Newf("unknown band scheme %q", scheme).
			Component("soundlevel").
			Category(errors.CategoryValidation).
			Build()
	}
	if maxHz <= 0 {
		maxHz = math.Inf(1)
	}

	centers := make([]float64, 0, len(table))
	for _, fc := range table {
		if fc >= minHz && fc <= maxHz {
			centers = append(centers, fc)
		}
	}

	if len(centers) == 0 {
		return nil, errors.Newf("no %s bands between %.1f Hz and %.1f Hz", scheme, minHz, maxHz).
			Component("soundlevel").
			Category(errors.CategoryValidation).
			Context("min_hz", minHz).
			Context("max_hz", maxHz).
			Build()
	}

	return centers, nil
}

// Band describes one analysis band at a given sample rate.
type Band struct {
	Center  float64 // nominal center (Hz)
	Low     float64 // lower passband edge (Hz)
	High    float64 // upper passband edge (Hz)
	AWeight float64 // A-weighting correction at Center (dB)
	CWeight float64 // C-weighting correction at Center (dB)

	// Correction is the calibration correction at Center (dB), filled in by
	// the LevelComputer that owns this band.
	Correction float64
}

// BandEdges returns center/K and center*K clipped to the open interval (0, fs/2).
func BandEdges(center, sampleRate float64) (low, high float64) {
	nyquist := sampleRate / 2
	limit := nyquist * maxEdgeFraction

	low = center / BandEdgeRatio
	high = center * BandEdgeRatio

	low = math.Min(low, limit)
	high = math.Min(high, limit)
	return low, high
}

// FormatBandKey renders a band center as used in payloads and CSV headers,
// for example "31.5" or "1000".
func FormatBandKey(center float64) string {
	return strconv.FormatFloat(center, 'f', -1, 64)
}

// ParseBandKey parses a decimal band center such as "31.5".
func ParseBandKey(key string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(key), 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errors.Newf("band center must be a positive number, got %q", key).
			Component("soundlevel").
			Category(errors.CategoryValidation).
			Build()
	}
	return f, nil
}

// indexOfCenter finds center in a sorted slice with a relative tolerance.
func indexOfCenter(centers []float64, center float64) int {
	i, _ := slices.BinarySearch(centers, center)
	for _, j := range []int{i - 1, i} {
		if j >= 0 && j < len(centers) && sameFrequency(centers[j], center) {
			return j
		}
	}
	return -1
}

func sameFrequency(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(math.Abs(a), math.Abs(b))
}
