package soundlevel

import (
	"math"
	"strings"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

// IEC 61672 pole frequencies (Hz) used by the closed-form curves.
const (
	poleLow   = 20.598997
	poleMidA1 = 107.65265
	poleMidA2 = 737.86223
	poleHigh  = 12194.217
)

var (
	aReference = aResponse(1000)
	cReference = cResponse(1000)
)

// ParseWeighting maps the configured selector to a weighting type.
// Only A, C and Z are supported.
func ParseWeighting(s string) (weighting.Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "DBA":
		return weighting.TypeA, nil
	case "C", "DBC":
		return weighting.TypeC, nil
	case "Z", "DBZ", "":
		return weighting.TypeZ, nil
	default:
		return weighting.TypeZ, errors.Newf("unsupported weighting %q", s).
			Component("soundlevel").
			Category(errors.CategoryValidation).
			Context("weighting", s).
			Build()
	}
}

// AWeightingDB returns the A-weighting correction at f, 0 dB at 1 kHz.
func AWeightingDB(f float64) float64 {
	if f <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(aResponse(f)/aReference)
}

// CWeightingDB returns the C-weighting correction at f, 0 dB at 1 kHz.
func CWeightingDB(f float64) float64 {
	if f <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(cResponse(f)/cReference)
}

// WeightingDB returns the correction of the given curve at f.
func WeightingDB(t weighting.Type, f float64) float64 {
	switch t {
	case weighting.TypeA:
		return AWeightingDB(f)
	case weighting.TypeC:
		return CWeightingDB(f)
	default:
		return 0
	}
}

func aResponse(f float64) float64 {
	f2 := f * f
	num := poleHigh * poleHigh * f2 * f2
	den := (f2 + poleLow*poleLow) *
		math.Sqrt((f2+poleMidA1*poleMidA1)*(f2+poleMidA2*poleMidA2)) *
		(f2 + poleHigh*poleHigh)
	return num / den
}

func cResponse(f float64) float64 {
	f2 := f * f
	num := poleHigh * poleHigh * f2
	den := (f2 + poleLow*poleLow) * (f2 + poleHigh*poleHigh)
	return num / den
}
