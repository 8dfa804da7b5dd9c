package soundlevel

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

// Calibration holds a global offset and sparse per-band correction points.
// A Calibration is immutable; reconfiguration builds a new one.
type Calibration struct {
	OffsetDB float64
	points   []calibrationPoint
}

type calibrationPoint struct {
	freq    float64
	logFreq float64
	db      float64
}

// NewCalibration builds a calibration from numeric band centers.
// Non-positive or non-finite entries are ignored.
func NewCalibration(offsetDB float64, corrections map[float64]float64) *Calibration {
	c := &Calibration{OffsetDB: offsetDB}
	for f, db := range corrections {
		if f <= 0 || !isFinite(f) || !isFinite(db) {
			continue
		}
		c.points = append(c.points, calibrationPoint{freq: f, logFreq: math.Log10(f), db: db})
	}
	slices.SortFunc(c.points, func(a, b calibrationPoint) int {
		switch {
		case a.logFreq < b.logFreq:
			return -1
		case a.logFreq > b.logFreq:
			return 1
		default:
			return 0
		}
	})
	return c
}

// ParseCalibration builds a calibration from decimal band keys such as "31.5".
// Malformed entries are skipped and returned as warnings.
func ParseCalibration(offsetDB float64, raw map[string]float64) (*Calibration, []error) {
	var warnings []error
	corrections := make(map[float64]float64, len(raw))

	for key, db := range raw {
		f, err := ParseBandKey(key)
		if err != nil {
			warnings = append(warnings, calibrationWarning("calibration entry %q skipped: %w", key, err))
			continue
		}
		if !isFinite(db) {
			warnings = append(warnings, calibrationWarning("calibration entry %q skipped: value is not finite", key))
			continue
		}
		corrections[f] = db
	}

	if !isFinite(offsetDB) {
		warnings = append(warnings, calibrationWarning("calibration offset is not finite, using 0 dB"))
		offsetDB = 0
	}

	return NewCalibration(offsetDB, corrections), warnings
}

// calibrationWarning describes a calibration entry that was skipped or replaced.
func calibrationWarning(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("soundlevel").
		Category(errors.CategoryConfiguration).
		Context("operation", "parse_calibration").
		Build()
}

// Correction returns the per-band correction for center, interpolated linearly
// in log10(frequency) between control points and clamped outside them.
func (c *Calibration) Correction(center float64) float64 {
	if c == nil || len(c.points) == 0 || center <= 0 {
		return 0
	}

	x := math.Log10(center)
	first, last := c.points[0], c.points[len(c.points)-1]
	if x <= first.logFreq {
		return first.db
	}
	if x >= last.logFreq {
		return last.db
	}

	i, found := slices.BinarySearchFunc(c.points, x, func(p calibrationPoint, t float64) int {
		switch {
		case p.logFreq < t:
			return -1
		case p.logFreq > t:
			return 1
		default:
			return 0
		}
	})
	if found {
		return c.points[i].db
	}

	lo, hi := c.points[i-1], c.points[i]
	t := (x - lo.logFreq) / (hi.logFreq - lo.logFreq)
	return lo.db + t*(hi.db-lo.db)
}

// Offset returns the global offset, zero for a nil calibration.
func (c *Calibration) Offset() float64 {
	if c == nil {
		return 0
	}
	return c.OffsetDB
}

// Points returns the control points keyed by band center.
func (c *Calibration) Points() map[string]float64 {
	if c == nil {
		return nil
	}
	out := make(map[string]float64, len(c.points))
	for _, p := range c.points {
		out[FormatBandKey(p.freq)] = p.db
	}
	return out
}

// calibrationFile is the on-disk calibration format.
type calibrationFile struct {
	OffsetDB   any            `json:"offset_db" yaml:"offset_db"`
	BandCorrDB map[string]any `json:"band_corr_db" yaml:"band_corr_db"`
}

// LoadCalibration reads a calibration file (JSON, or YAML by extension).
// Missing or malformed input degrades to zero correction; every problem is
// returned as a warning and never as a fatal error.
func LoadCalibration(path string) (*Calibration, []error) {
	if path == "" {
		return NewCalibration(0, nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return NewCalibration(0, nil), []error{
			errors.New(err).
				Component("soundlevel").
				Category(errors.CategoryFileIO).
				FileContext(path, 0).
				Context("operation", "load_calibration").
				Build(),
		}
	}

	var file calibrationFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return NewCalibration(0, nil), []error{
			errors.New(err).
				Component("soundlevel").
				Category(errors.CategoryFileParsing).
				FileContext(path, int64(len(data))).
				Context("operation", "parse_calibration").
				Build(),
		}
	}

	var warnings []error

	offset, ok := toFloat(file.OffsetDB)
	if !ok && file.OffsetDB != nil {
		warnings = append(warnings, calibrationWarning("calibration offset_db %v is not a number, using 0 dB", file.OffsetDB))
	}

	raw := make(map[string]float64, len(file.BandCorrDB))
	for key, value := range file.BandCorrDB {
		db, ok := toFloat(value)
		if !ok {
			warnings = append(warnings, calibrationWarning("calibration entry %q skipped: %v is not a number", key, value))
			continue
		}
		raw[key] = db
	}

	cal, parseWarnings := ParseCalibration(offset, raw)
	return cal, append(warnings, parseWarnings...)
}

// toFloat coerces decoded JSON/YAML scalars into float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
