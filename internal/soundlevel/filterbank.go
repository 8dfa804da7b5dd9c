package soundlevel

import (
	"math"
	"math/cmplx"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// prototypeOrder is the Butterworth lowpass prototype order. The bandpass
// transform doubles it, giving four second-order sections per band.
const prototypeOrder = 4

// FilterBank owns one streaming bandpass filter per band for a fixed sample
// rate. The band set never changes; a new sample rate needs a new FilterBank.
type FilterBank struct {
	sampleRate float64
	bands      []Band
	chains     []*biquad.Chain
	out        [][]float64
}

// NewFilterBank designs a bandpass cascade for each center. Centers at or
// above Nyquist are skipped with a warning.
func NewFilterBank(sampleRate float64, centers []float64) (*FilterBank, error) {
	if sampleRate <= 0 {
		return nil, errors.Newf("invalid sample rate %v", sampleRate).
			Component("soundlevel").
			Category(errors.CategoryValidation).
			Build()
	}

	log := GetLogger()
	nyquist := sampleRate / 2

	fb := &FilterBank{sampleRate: sampleRate}
	prev := 0.0
	for _, fc := range centers {
		if fc <= prev {
			return nil, errors.Newf("band centers must strictly increase, got %v after %v", fc, prev).
				Component("soundlevel").
				Category(errors.CategoryValidation).
				Build()
		}
		prev = fc

		low, high := BandEdges(fc, sampleRate)
		if fc >= nyquist || low >= high {
			log.Warn("skipping band above Nyquist",
				logger.Float64("center_hz", fc),
				logger.Float64("sample_rate", sampleRate))
			continue
		}

		chain := biquad.NewChain(designBandpass(low, high, sampleRate))
		if mag := cmplx.Abs(chain.Response(digitalCenter(low, high, sampleRate), sampleRate)); mag > 0 {
			chain.SetGain(1 / mag)
		}

		fb.bands = append(fb.bands, Band{
			Center:  fc,
			Low:     low,
			High:    high,
			AWeight: AWeightingDB(fc),
			CWeight: CWeightingDB(fc),
		})
		fb.chains = append(fb.chains, chain)
	}

	if len(fb.bands) == 0 {
		return nil, errors.Newf("no usable bands below Nyquist (%.0f Hz)", nyquist).
			Component("soundlevel").
			Category(errors.CategoryValidation).
			Build()
	}

	fb.out = make([][]float64, len(fb.bands))
	return fb, nil
}

// designBandpass returns the second-order sections of a Butterworth bandpass
// with the given edges, using the bilinear transform with pre-warping.
// Sections are unnormalized; the caller sets the chain gain.
func designBandpass(low, high, sampleRate float64) []biquad.Coefficients {
	k := 2 * sampleRate
	wl := k * math.Tan(math.Pi*low/sampleRate)
	wh := k * math.Tan(math.Pi*high/sampleRate)
	bw := wh - wl
	w0sq := complex(wl*wh, 0)

	coeffs := make([]biquad.Coefficients, 0, prototypeOrder)
	for i := range prototypeOrder / 2 {
		// Upper half-plane prototype poles; conjugates give the same sections.
		theta := math.Pi * float64(2*i+1+prototypeOrder) / float64(2*prototypeOrder)
		half := cmplx.Rect(1, theta) * complex(bw/2, 0)
		disc := cmplx.Sqrt(half*half - w0sq)

		for _, s := range []complex128{half + disc, half - disc} {
			z := (complex(k, 0) + s) / (complex(k, 0) - s)
			coeffs = append(coeffs, biquad.Coefficients{
				B0: 1,
				B1: 0,
				B2: -1,
				A1: -2 * real(z),
				A2: real(z)*real(z) + imag(z)*imag(z),
			})
		}
	}
	return coeffs
}

// digitalCenter is the frequency the bilinear transform maps the analog
// geometric center onto. The Butterworth passband peaks there.
func digitalCenter(low, high, sampleRate float64) float64 {
	k := 2 * sampleRate
	wl := k * math.Tan(math.Pi*low/sampleRate)
	wh := k * math.Tan(math.Pi*high/sampleRate)
	return sampleRate / math.Pi * math.Atan(math.Sqrt(wl*wh)/k)
}

// Process filters one block through every band. Delay lines carry over to
// the next call. The returned slices belong to the bank and are valid until
// the next call.
func (fb *FilterBank) Process(samples []float64) [][]float64 {
	for i, chain := range fb.chains {
		buf := fb.out[i]
		if cap(buf) < len(samples) {
			buf = make([]float64, len(samples))
		}
		buf = buf[:len(samples)]
		copy(buf, samples)
		chain.ProcessBlock(buf)
		fb.out[i] = buf
	}
	return fb.out
}

// Reset clears every band's delay line.
func (fb *FilterBank) Reset() {
	for _, chain := range fb.chains {
		chain.Reset()
	}
}

// Bands returns the bands in ascending center order.
func (fb *FilterBank) Bands() []Band {
	out := make([]Band, len(fb.bands))
	copy(out, fb.bands)
	return out
}

// Centers returns the band centers in ascending order.
func (fb *FilterBank) Centers() []float64 {
	out := make([]float64, len(fb.bands))
	for i, b := range fb.bands {
		out[i] = b.Center
	}
	return out
}

// SampleRate returns the rate the bank was designed for.
func (fb *FilterBank) SampleRate() float64 {
	return fb.sampleRate
}

// MagnitudeDB returns the response of band i at freq, for diagnostics.
func (fb *FilterBank) MagnitudeDB(i int, freq float64) float64 {
	return fb.chains[i].MagnitudeDB(freq, fb.sampleRate)
}
