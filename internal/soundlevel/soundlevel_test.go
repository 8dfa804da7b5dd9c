package soundlevel

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

func sine(freq, amplitude, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return out
}

func TestBandCenters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		scheme  Scheme
		min     float64
		max     float64
		want    []float64
		wantErr bool
	}{
		{"octave subset", SchemeOctave, 100, 1000, []float64{125, 250, 500, 1000}, false},
		{"half octave subset", SchemeHalfOctave, 700, 1500, []float64{710, 1000, 1400}, false},
		{"third octave no upper bound", SchemeThirdOctave, 12000, 0, []float64{12500, 16000, 20000}, false},
		{"empty selection", SchemeOctave, 17000, 18000, nil, true},
		{"unknown scheme", Scheme("1/12-octave"), 0, 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BandCenters(tt.scheme, tt.min, tt.max)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBandCentersStrictlyIncrease(t *testing.T) {
	t.Parallel()

	for _, scheme := range []Scheme{SchemeOctave, SchemeHalfOctave, SchemeThirdOctave} {
		centers, err := BandCenters(scheme, 0, 0)
		require.NoError(t, err)
		for i := 1; i < len(centers); i++ {
			assert.Greater(t, centers[i], centers[i-1], "scheme %s index %d", scheme, i)
		}
	}
}

func TestParseScheme(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Scheme{
		"1-octave":   SchemeOctave,
		"1/2-octave": SchemeHalfOctave,
		"1/3-octave": SchemeThirdOctave,
		"":           SchemeThirdOctave,
		" Octave ":   SchemeOctave,
	} {
		got, err := ParseScheme(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseScheme("1/24")
	require.Error(t, err)
}

func TestBandEdges(t *testing.T) {
	t.Parallel()

	low, high := BandEdges(1000, 48000)
	assert.InDelta(t, 1000/BandEdgeRatio, low, 1e-9)
	assert.InDelta(t, 1000*BandEdgeRatio, high, 1e-9)

	// Upper edge of a band near Nyquist is clipped below fs/2.
	low, high = BandEdges(20000, 44100)
	assert.Less(t, high, 22050.0)
	assert.Greater(t, low, 0.0)
	assert.LessOrEqual(t, low, high)
}

func TestBandKeyRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "31.5", FormatBandKey(31.5))
	assert.Equal(t, "1000", FormatBandKey(1000))

	f, err := ParseBandKey(" 31.5 ")
	require.NoError(t, err)
	assert.InDelta(t, 31.5, f, 1e-12)

	_, err = ParseBandKey("-5")
	require.Error(t, err)
	_, err = ParseBandKey("sum")
	require.Error(t, err)
}

func TestAWeighting(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0, AWeightingDB(1000), 1e-9)
	assert.InDelta(t, -19.1, AWeightingDB(100), 0.2)
	assert.InDelta(t, -39.5, AWeightingDB(31.5), 0.3)

	centers, err := BandCenters(SchemeThirdOctave, 20, 1000)
	require.NoError(t, err)
	for i := 1; i < len(centers); i++ {
		assert.Less(t, AWeightingDB(centers[i-1]), AWeightingDB(centers[i]),
			"A-weighting must roll off below 1 kHz (%v Hz)", centers[i-1])
	}
}

func TestCWeighting(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0, CWeightingDB(1000), 1e-9)
	assert.InDelta(t, -3.0, CWeightingDB(31.5), 0.2)
	assert.InDelta(t, -3.0, CWeightingDB(8000), 0.2)
	assert.Equal(t, 0.0, WeightingDB(weighting.TypeZ, 50))
}

func TestParseWeighting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    weighting.Type
		wantErr bool
	}{
		{"A", weighting.TypeA, false},
		{"c", weighting.TypeC, false},
		{"Z", weighting.TypeZ, false},
		{"dBA", weighting.TypeA, false},
		{"B", weighting.TypeZ, true},
		{"loud", weighting.TypeZ, true},
	}
	for _, tt := range tests {
		got, err := ParseWeighting(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCalibrationCorrection(t *testing.T) {
	t.Parallel()

	cal := NewCalibration(2.5, map[float64]float64{100: 1, 1000: 3, 10000: -1})

	tests := []struct {
		name   string
		center float64
		want   float64
	}{
		{"exact low point", 100, 1},
		{"exact mid point", 1000, 3},
		{"exact high point", 10000, -1},
		{"log midpoint", math.Sqrt(100 * 1000), 2},
		{"log quarter", math.Pow(10, 3.25), 2},
		{"clamped below", 31.5, 1},
		{"clamped above", 16000, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, cal.Correction(tt.center), 1e-9)
		})
	}

	assert.InDelta(t, 2.5, cal.Offset(), 0)
	assert.Equal(t, 0.0, NewCalibration(0, nil).Correction(1000))

	var nilCal *Calibration
	assert.Equal(t, 0.0, nilCal.Correction(1000))
	assert.Equal(t, 0.0, nilCal.Offset())
}

func TestCalibrationMonotonicBetweenPoints(t *testing.T) {
	t.Parallel()

	cal := NewCalibration(0, map[float64]float64{200: -2, 2000: 4})
	prev := cal.Correction(200)
	for f := 210.0; f <= 2000; f += 10 {
		c := cal.Correction(f)
		assert.GreaterOrEqual(t, c, prev, "f=%v", f)
		prev = c
	}
}

func TestParseCalibrationSkipsMalformed(t *testing.T) {
	t.Parallel()

	cal, warnings := ParseCalibration(1, map[string]float64{
		"31.5": 2,
		"abc":  5,
		"-10":  1,
		"1000": math.Inf(1),
	})
	assert.Len(t, warnings, 3)
	assert.Equal(t, map[string]float64{"31.5": 2}, cal.Points())
	assert.InDelta(t, 1, cal.Offset(), 0)

	_, warnings = ParseCalibration(math.NaN(), nil)
	require.Len(t, warnings, 1)
	for _, w := range warnings {
		var ee *errors.EnhancedError
		require.ErrorAs(t, w, &ee)
		assert.Equal(t, "soundlevel", ee.GetComponent())
		assert.True(t, errors.IsCategory(w, errors.CategoryConfiguration))
	}
}

func TestLoadCalibration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "cal.json")
	require.NoError(t, os.WriteFile(jsonPath,
		[]byte(`{"offset_db": 1.5, "band_corr_db": {"63": -1, "1000": "0.5", "250": "x", "bad": 3}}`), 0o600))

	cal, warnings := LoadCalibration(jsonPath)
	assert.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.True(t, errors.IsCategory(w, errors.CategoryConfiguration), w.Error())
	}
	assert.InDelta(t, 1.5, cal.Offset(), 1e-12)
	assert.InDelta(t, -1, cal.Correction(63), 1e-12)
	assert.InDelta(t, 0.5, cal.Correction(1000), 1e-12)

	yamlPath := filepath.Join(dir, "cal.yaml")
	require.NoError(t, os.WriteFile(yamlPath,
		[]byte("offset_db: -3\nband_corr_db:\n  \"125\": 2\n"), 0o600))
	cal, warnings = LoadCalibration(yamlPath)
	assert.Empty(t, warnings)
	assert.InDelta(t, -3, cal.Offset(), 1e-12)
	assert.InDelta(t, 2, cal.Correction(125), 1e-12)

	cal, warnings = LoadCalibration(filepath.Join(dir, "missing.json"))
	require.Len(t, warnings, 1)
	assert.Equal(t, 0.0, cal.Correction(1000))

	brokenPath := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(brokenPath, []byte("{"), 0o600))
	cal, warnings = LoadCalibration(brokenPath)
	require.Len(t, warnings, 1)
	assert.Equal(t, 0.0, cal.Offset())
}

func TestFilterBankCenterGain(t *testing.T) {
	t.Parallel()

	const fs = 48000.0
	fb, err := NewFilterBank(fs, []float64{250, 1000, 4000})
	require.NoError(t, err)

	for i, b := range fb.Bands() {
		// Skip the start-up transient before measuring.
		out := fb.Process(sine(b.Center, 1, fs, int(fs)))
		steady := out[i][int(fs)/2:]
		gainDB := 20 * math.Log10(RMS(steady)*math.Sqrt2)
		assert.InDelta(t, 0, gainDB, 0.3, "band %v Hz", b.Center)
		fb.Reset()
	}
}

func TestFilterBankRejectsOutOfBand(t *testing.T) {
	t.Parallel()

	const fs = 48000.0
	fb, err := NewFilterBank(fs, []float64{1000})
	require.NoError(t, err)

	for _, f := range []float64{250, 4000} {
		fb.Reset()
		out := fb.Process(sine(f, 1, fs, int(fs)))
		steady := out[0][int(fs)/2:]
		gainDB := 20 * math.Log10(RMS(steady)*math.Sqrt2)
		assert.Less(t, gainDB, -40.0, "tone at %v Hz", f)
	}
}

func TestFilterBankStreamingContinuity(t *testing.T) {
	t.Parallel()

	const fs = 48000.0
	signal := sine(1000, 0.5, fs, 4800)
	for i := range signal {
		signal[i] += 0.2 * math.Sin(2*math.Pi*333*float64(i)/fs)
	}

	whole, err := NewFilterBank(fs, []float64{500, 1000})
	require.NoError(t, err)
	chunked, err := NewFilterBank(fs, []float64{500, 1000})
	require.NoError(t, err)

	ref := whole.Process(signal)
	expected := [][]float64{append([]float64(nil), ref[0]...), append([]float64(nil), ref[1]...)}

	const chunk = 480
	for start := 0; start < len(signal); start += chunk {
		out := chunked.Process(signal[start : start+chunk])
		for band := range out {
			for j, v := range out[band] {
				assert.InDelta(t, expected[band][start+j], v, 1e-9)
			}
		}
	}
}

func TestFilterBankSkipsBandsAboveNyquist(t *testing.T) {
	t.Parallel()

	fb, err := NewFilterBank(16000, []float64{1000, 4000, 8000, 10000})
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 4000}, fb.Centers())

	_, err = NewFilterBank(1000, []float64{1000})
	require.Error(t, err)

	_, err = NewFilterBank(48000, []float64{1000, 500})
	require.Error(t, err)
}

func TestLevelComputerTone(t *testing.T) {
	t.Parallel()

	const fs = 48000.0
	centers, err := BandCenters(SchemeOctave, 125, 8000)
	require.NoError(t, err)
	fb, err := NewFilterBank(fs, centers)
	require.NoError(t, err)

	// 70 dB SPL re 20 µPa in normalized units.
	amplitude := ReferencePressure * math.Pow(10, 70.0/20) * math.Sqrt2
	lc := NewLevelComputer(fb.Bands(), NewCalibration(1, map[float64]float64{1000: 0.5}))

	fb.Process(sine(1000, amplitude, fs, int(fs)))
	snap := lc.Compute(time.Unix(0, 0), fb.Process(sine(1000, amplitude, fs, int(fs))))

	lv, ok := snap.Level(1000)
	require.True(t, ok)
	assert.InDelta(t, 71.5, lv.Z, 0.3)
	assert.InDelta(t, lv.Z, lv.A, 1e-9)
	assert.InDelta(t, lv.Z+CWeightingDB(1000), lv.C, 1e-9)

	lo, ok := snap.Level(125)
	require.True(t, ok)
	assert.Less(t, lo.Z, lv.Z-40)
	assert.Less(t, lo.A, lo.Z)

	_, ok = snap.Level(1234)
	assert.False(t, ok)

	assert.InDelta(t, lv.A, snap.Sum(weighting.TypeA), 0.1)
}

func TestLevelComputerSilenceIsFinite(t *testing.T) {
	t.Parallel()

	fb, err := NewFilterBank(48000, []float64{1000})
	require.NoError(t, err)
	lc := NewLevelComputer(fb.Bands(), nil)

	snap := lc.Compute(time.Now(), fb.Process(make([]float64, 4800)))
	for _, l := range snap.Levels {
		assert.False(t, math.IsInf(l.Z, 0) || math.IsNaN(l.Z))
		assert.False(t, math.IsInf(l.A, 0) || math.IsNaN(l.A))
	}
}

func TestEnergySum(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 63.0103, EnergySum([]float64{60, 60}), 1e-3)
	assert.Equal(t, 0.0, EnergyToDB(0))
	assert.Equal(t, 0.0, EnergyToDB(-1))
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	t.Parallel()

	snap := LevelSnapshot{Centers: []float64{1000}, Levels: []Levels{{Z: 1, A: 2, C: 3}}}
	c := snap.Clone()
	c.Levels[0].A = 99
	assert.Equal(t, 2.0, snap.Levels[0].A)
	assert.Equal(t, []float64{2}, snap.Values(weighting.TypeA))
}

func TestSpectrumAveragerEnergyDomain(t *testing.T) {
	t.Parallel()

	avg := NewSpectrumAverager([]float64{1000}, weighting.TypeA, 2*time.Second, 2*time.Second)
	ts := time.Unix(100, 0)

	_, ok := avg.Add(ts, []float64{60}, time.Second)
	assert.False(t, ok)

	spec, ok := avg.Add(ts.Add(time.Second), []float64{80}, time.Second)
	require.True(t, ok)

	energyMean := 10 * math.Log10((math.Pow(10, 6)+math.Pow(10, 8))/2)
	dbMean := 70.0
	assert.InDelta(t, energyMean, spec.Values[0], 1e-9)
	assert.NotEqual(t, dbMean, spec.Values[0])
	assert.InDelta(t, spec.Values[0], spec.Sum, 1e-9)
	assert.Equal(t, weighting.TypeA, spec.Weighting)
	assert.Equal(t, 2*time.Second, spec.AveragingPeriod)
}

func TestSpectrumAveragerRollingWindow(t *testing.T) {
	t.Parallel()

	avg := NewSpectrumAverager([]float64{500, 1000}, weighting.TypeZ, time.Second, 2*time.Second)
	require.Equal(t, 2, avg.Window())

	ts := time.Unix(0, 0)
	var last Spectrum
	for i, v := range []float64{40, 60, 80} {
		spec, ok := avg.Add(ts.Add(time.Duration(i)*time.Second), []float64{v, v}, time.Second)
		require.True(t, ok)
		last = spec
	}

	// Window of two: the 40 dB average has been evicted.
	want := 10 * math.Log10((math.Pow(10, 6)+math.Pow(10, 8))/2)
	assert.InDelta(t, want, last.Values[0], 1e-9)
	assert.InDelta(t, want+10*math.Log10(2), last.Sum, 1e-9)

	avg.Reset()
	spec, ok := avg.Add(ts, []float64{30, 30}, time.Second)
	require.True(t, ok)
	assert.InDelta(t, 30, spec.Values[0], 1e-9)
}

func TestSpectrumAveragerCarriesRemainder(t *testing.T) {
	t.Parallel()

	avg := NewSpectrumAverager([]float64{1000}, weighting.TypeZ, time.Second, time.Second)
	ts := time.Unix(0, 0)

	var published []int
	for i := range 20 {
		if _, ok := avg.Add(ts, []float64{50}, 300*time.Millisecond); ok {
			published = append(published, i)
		}
	}

	// 6 s of 300 ms blocks publish once per second on average.
	assert.Equal(t, []int{3, 6, 9, 13, 16, 19}, published)
}

func TestSpectrumAveragerWindowFloor(t *testing.T) {
	t.Parallel()

	avg := NewSpectrumAverager([]float64{1000}, weighting.TypeA, time.Second, 100*time.Millisecond)
	assert.Equal(t, 1, avg.Window())
}
