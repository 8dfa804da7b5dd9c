package analysis

import (
	"sync/atomic"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/conf"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

// Block duration bounds used when no explicit duration is configured.
const (
	MinAutoBlockDuration = 100 * time.Millisecond
	MaxAutoBlockDuration = 250 * time.Millisecond
)

var configVersion atomic.Uint64

// RecordingConfig holds the event recorder timing.
type RecordingConfig struct {
	Enabled   bool
	PreRoll   time.Duration
	PostRoll  time.Duration
	MaxLength time.Duration
}

// Config is one immutable, versioned processing configuration. The loop
// never mutates a Config; Reconfigure replaces it as a whole.
type Config struct {
	Version uint64

	Scheme          soundlevel.Scheme
	Centers         []float64 // requested band centers before the Nyquist cut
	Weighting       weighting.Type
	Calibration     *soundlevel.Calibration
	BlockDuration   time.Duration
	PublishInterval time.Duration
	AveragingPeriod time.Duration

	Trigger   trigger.Config
	Recording RecordingConfig
}

// BlockDurationFor returns the explicit block duration when set, otherwise
// the publish interval clamped to the automatic bounds.
func BlockDurationFor(explicit time.Duration, publish time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	return min(max(publish, MinAutoBlockDuration), MaxAutoBlockDuration)
}

// BlockSamples returns the number of samples in one block at sampleRate.
func (c *Config) BlockSamples(sampleRate int) int {
	return max(1, int(float64(sampleRate)*c.BlockDuration.Seconds()+0.5))
}

// NewConfig builds a processing configuration from validated settings.
// Calibration problems are logged as warnings and never fail the build.
func NewConfig(settings *conf.Settings) (*Config, error) {
	a := settings.Analyzer

	scheme, err := soundlevel.ParseScheme(a.BandScheme)
	if err != nil {
		return nil, err
	}
	centers, err := soundlevel.BandCenters(scheme, a.MinFrequency, a.MaxFrequency)
	if err != nil {
		return nil, err
	}
	w, err := soundlevel.ParseWeighting(a.Weighting)
	if err != nil {
		return nil, err
	}

	publish := seconds(a.PublishInterval)
	if publish <= 0 {
		return nil, errors.Newf("publish interval must be positive, got %v", a.PublishInterval).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	block := BlockDurationFor(seconds(a.BlockDuration), publish)

	cal := loadCalibration(a.CalibrationFile, a.CalibrationOffset)

	specs, err := triggerSpecs(&settings.Trigger)
	if err != nil {
		return nil, err
	}
	mode, err := trigger.ParseMode(settings.Trigger.Mode)
	if err != nil {
		return nil, err
	}

	r := settings.Recording
	return &Config{
		Version:         configVersion.Add(1),
		Scheme:          scheme,
		Centers:         centers,
		Weighting:       w,
		Calibration:     cal,
		BlockDuration:   block,
		PublishInterval: publish,
		AveragingPeriod: seconds(a.AveragingPeriod),
		Trigger: trigger.Config{
			Specs:         specs,
			Mode:          mode,
			BlockDuration: block,
			DefaultHold:   seconds(settings.Trigger.DefaultHold),
		},
		Recording: RecordingConfig{
			Enabled:   r.Enabled,
			PreRoll:   seconds(r.PreBuffer),
			PostRoll:  seconds(r.PostBuffer),
			MaxLength: seconds(r.MaxLength),
		},
	}, nil
}

func triggerSpecs(settings *conf.TriggerSettings) ([]trigger.Spec, error) {
	specs := make([]trigger.Spec, 0, len(settings.Rules)+1)
	for _, rule := range settings.Rules {
		spec, err := trigger.ParseSelector(rule.Frequency, rule.Threshold, seconds(rule.MinDuration))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if p := settings.Prominent; p.Enabled {
		specs = append(specs, trigger.Prominent(p.FrequencyA, p.FrequencyB, seconds(p.MinDuration)))
	}
	if err := trigger.Validate(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// loadCalibration reads the calibration file and adds the configured global
// offset on top of the file offset.
func loadCalibration(path string, extraOffset float64) *soundlevel.Calibration {
	cal, warnings := soundlevel.LoadCalibration(path)
	log := GetLogger().With(logger.String("file", path))
	for _, w := range warnings {
		log.Warn("calibration warning", logger.Error(w))
	}
	if extraOffset == 0 {
		return cal
	}

	points := cal.Points()
	corrections := make(map[float64]float64, len(points))
	for key, db := range points {
		f, err := soundlevel.ParseBandKey(key)
		if err != nil {
			continue
		}
		corrections[f] = db
	}
	return soundlevel.NewCalibration(cal.Offset()+extraOffset, corrections)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
