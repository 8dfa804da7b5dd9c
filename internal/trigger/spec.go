// Package trigger evaluates band, aggregate and prominent-frequency trigger
// conditions and decides when a sustained condition should start an event.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
)

// Kind tags the variant of a Spec.
type Kind int

const (
	KindBand Kind = iota
	KindAggregate
	KindProminent
)

func (k Kind) String() string {
	switch k {
	case KindBand:
		return "band"
	case KindAggregate:
		return "aggregate"
	case KindProminent:
		return "prominent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	// MaxSimpleSpecs is the number of band or aggregate triggers allowed at once.
	MaxSimpleSpecs = 4
	// MaxProminentSpecs is the number of prominent-frequency triggers allowed.
	MaxProminentSpecs = 1
	// DefaultHold applies when no enabled trigger sets a positive min duration.
	DefaultHold = 2 * time.Second
)

// Spec is one configured trigger. Only the fields of its Kind are used.
type Spec struct {
	Kind        Kind
	Frequency   float64 // KindBand target center (Hz)
	FrequencyA  float64 // KindProminent first candidate (Hz)
	FrequencyB  float64 // KindProminent second candidate (Hz)
	Threshold   float64 // dB(A); unused for KindProminent
	MinDuration time.Duration
}

// Band returns a trigger on the A-weighted level of one band.
func Band(frequency, threshold float64, minDuration time.Duration) Spec {
	return Spec{Kind: KindBand, Frequency: frequency, Threshold: threshold, MinDuration: minDuration}
}

// Aggregate returns a trigger on the telemetry sum level.
func Aggregate(threshold float64, minDuration time.Duration) Spec {
	return Spec{Kind: KindAggregate, Threshold: threshold, MinDuration: minDuration}
}

// Prominent returns a trigger that holds while either candidate band is the
// loudest band for minDuration without interruption.
func Prominent(frequencyA, frequencyB float64, minDuration time.Duration) Spec {
	return Spec{Kind: KindProminent, FrequencyA: frequencyA, FrequencyB: frequencyB, MinDuration: minDuration}
}

// Enabled reports whether the spec takes part in evaluation.
func (s Spec) Enabled() bool {
	switch s.Kind {
	case KindBand:
		return s.Threshold > 0 && s.Frequency > 0
	case KindAggregate:
		return s.Threshold > 0
	case KindProminent:
		return s.FrequencyA > 0 || s.FrequencyB > 0
	default:
		return false
	}
}

// Label names the spec in logs, CSV rows and status output.
func (s Spec) Label() string {
	switch s.Kind {
	case KindBand:
		return "band_" + soundlevel.FormatBandKey(s.Frequency)
	case KindAggregate:
		return "sum"
	case KindProminent:
		var parts []string
		for _, f := range []float64{s.FrequencyA, s.FrequencyB} {
			if f > 0 {
				parts = append(parts, soundlevel.FormatBandKey(f))
			}
		}
		return "prominent_" + strings.Join(parts, "_")
	default:
		return s.Kind.String()
	}
}

// ParseSelector turns a configured frequency selector into a simple spec.
// The literal "sum" selects the aggregate level, anything else must be a
// band center. An empty selector yields a disabled band spec.
func ParseSelector(selector string, threshold float64, minDuration time.Duration) (Spec, error) {
	sel := strings.TrimSpace(selector)
	switch strings.ToLower(sel) {
	case "":
		return Band(0, threshold, minDuration), nil
	case "sum", "aggregate":
		return Aggregate(threshold, minDuration), nil
	}

	f, err := soundlevel.ParseBandKey(sel)
	if err != nil {
		return Spec{}, errors.Newf("invalid trigger frequency %q", selector).
			Component("trigger").
			Category(errors.CategoryValidation).
			Context("selector", selector).
			Build()
	}
	return Band(f, threshold, minDuration), nil
}

// Mode combines the active states of enabled specs.
type Mode int

const (
	ModeOr Mode = iota
	ModeAnd
)

func (m Mode) String() string {
	if m == ModeAnd {
		return "AND"
	}
	return "OR"
}

// ParseMode accepts "AND" or "OR" in any case; empty means OR.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OR":
		return ModeOr, nil
	case "AND":
		return ModeAnd, nil
	default:
		return ModeOr, errors.Newf("invalid trigger mode %q", s).
			Component("trigger").
			Category(errors.CategoryValidation).
			Build()
	}
}

// Validate checks the spec count limits.
func Validate(specs []Spec) error {
	simple, prominent := 0, 0
	for _, s := range specs {
		switch s.Kind {
		case KindBand, KindAggregate:
			simple++
		case KindProminent:
			prominent++
		default:
			return errors.Newf("unknown trigger kind %d", int(s.Kind)).
				Component("trigger").
				Category(errors.CategoryValidation).
				Build()
		}
		if s.MinDuration < 0 {
			return errors.Newf("trigger %s has negative min duration", s.Label()).
				Component("trigger").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	if simple > MaxSimpleSpecs || prominent > MaxProminentSpecs {
		return errors.Newf("at most %d simple and %d prominent triggers are supported, got %d and %d",
			MaxSimpleSpecs, MaxProminentSpecs, simple, prominent).
			Component("trigger").
			Category(errors.CategoryLimit).
			Build()
	}
	return nil
}

// RequiredHold returns how long the combined condition must hold before an
// event starts. AND waits for the longest min duration, OR for the shortest
// positive one. Without any positive duration the fallback applies.
func RequiredHold(specs []Spec, mode Mode, fallback time.Duration) time.Duration {
	var hold time.Duration
	for _, s := range specs {
		if !s.Enabled() {
			continue
		}
		switch mode {
		case ModeAnd:
			hold = max(hold, s.MinDuration)
		default:
			if s.MinDuration > 0 && (hold == 0 || s.MinDuration < hold) {
				hold = s.MinDuration
			}
		}
	}
	if hold <= 0 {
		return fallback
	}
	return hold
}
