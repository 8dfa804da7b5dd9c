// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		func(s *Settings) error { return validateAudioSettings(&s.Audio) },
		func(s *Settings) error { return validateAnalyzerSettings(&s.Analyzer) },
		func(s *Settings) error { return validateTriggerSettings(&s.Trigger) },
		func(s *Settings) error { return validateRecordingSettings(&s.Recording) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateAudioSettings validates capture settings
func validateAudioSettings(settings *AudioSettings) error {
	var errs []string

	if settings.SampleRate < 8000 || settings.SampleRate > 384000 {
		errs = append(errs, fmt.Sprintf("audio sample rate %d must be between 8000 and 384000 Hz", settings.SampleRate))
	}
	for _, r := range settings.FallbackRates {
		if r < 8000 || r > 384000 {
			errs = append(errs, fmt.Sprintf("fallback sample rate %d must be between 8000 and 384000 Hz", r))
		}
	}
	if settings.BufferSeconds <= 0 {
		errs = append(errs, "audio buffer seconds must be positive")
	}

	return joinErrors("audio", errs)
}

// validateAnalyzerSettings validates band and level settings
func validateAnalyzerSettings(settings *AnalyzerSettings) error {
	var errs []string

	scheme, err := soundlevel.ParseScheme(settings.BandScheme)
	if err != nil {
		errs = append(errs, err.Error())
	} else if _, err := soundlevel.BandCenters(scheme, settings.MinFrequency, settings.MaxFrequency); err != nil {
		errs = append(errs, err.Error())
	}
	if settings.MinFrequency < 0 {
		errs = append(errs, "min frequency must not be negative")
	}
	if settings.MaxFrequency > 0 && settings.MaxFrequency < settings.MinFrequency {
		errs = append(errs, "max frequency must not be below min frequency")
	}

	if _, err := soundlevel.ParseWeighting(settings.Weighting); err != nil {
		errs = append(errs, err.Error())
	}

	if settings.PublishInterval <= 0 {
		errs = append(errs, "publish interval must be positive")
	}
	if settings.AveragingPeriod < 0 {
		errs = append(errs, "averaging period must not be negative")
	}
	if settings.BlockDuration < 0 || settings.BlockDuration > 5 {
		errs = append(errs, "block duration must be between 0 (automatic) and 5 seconds")
	}

	return joinErrors("analyzer", errs)
}

// validateTriggerSettings validates trigger rules
func validateTriggerSettings(settings *TriggerSettings) error {
	var errs []string

	if _, err := trigger.ParseMode(settings.Mode); err != nil {
		errs = append(errs, err.Error())
	}
	if settings.DefaultHold < 0 {
		errs = append(errs, "default hold must not be negative")
	}
	if len(settings.Rules) > trigger.MaxSimpleSpecs {
		errs = append(errs, fmt.Sprintf("at most %d trigger rules are supported, got %d", trigger.MaxSimpleSpecs, len(settings.Rules)))
	}
	for i, rule := range settings.Rules {
		if _, err := trigger.ParseSelector(rule.Frequency, rule.Threshold, 0); err != nil {
			errs = append(errs, fmt.Sprintf("rule %d: %v", i+1, err))
		}
		if rule.MinDuration < 0 {
			errs = append(errs, fmt.Sprintf("rule %d: min duration must not be negative", i+1))
		}
	}
	if p := settings.Prominent; p.Enabled {
		if p.FrequencyA <= 0 && p.FrequencyB <= 0 {
			errs = append(errs, "prominent trigger needs at least one candidate frequency")
		}
		if p.MinDuration < 0 {
			errs = append(errs, "prominent min duration must not be negative")
		}
	}

	return joinErrors("trigger", errs)
}

// validateRecordingSettings validates event recording settings
func validateRecordingSettings(settings *RecordingSettings) error {
	var errs []string

	if settings.PreBuffer < 0 || settings.PostBuffer < 0 || settings.MaxLength < 0 {
		errs = append(errs, "pre buffer, post buffer and max length must not be negative")
	}
	if settings.Enabled && strings.TrimSpace(settings.Storage) == "" {
		errs = append(errs, "storage path is required when recording is enabled")
	}
	switch strings.ToLower(settings.Format) {
	case "flac", "wav":
	default:
		errs = append(errs, fmt.Sprintf("unsupported recording format %q, use flac or wav", settings.Format))
	}

	return joinErrors("recording", errs)
}

// validateMQTTSettings validates MQTT settings
func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string
	if settings.Broker == "" {
		errs = append(errs, "broker is required when MQTT is enabled")
	} else if u, err := url.Parse(settings.Broker); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid broker URL %q, expected scheme://host:port", settings.Broker))
	}
	if strings.TrimSpace(settings.TopicBase) == "" {
		errs = append(errs, "topic base is required when MQTT is enabled")
	}
	if strings.ContainsAny(settings.TopicBase, "#+") {
		errs = append(errs, "topic base must not contain wildcards")
	}

	return joinErrors("mqtt", errs)
}

// validateWebServerSettings validates the web server port
func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string
	port, err := strconv.Atoi(settings.Port)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %q", settings.Port))
	}
	if settings.RecentEvents < 0 {
		errs = append(errs, "recent events must not be negative")
	}

	return joinErrors("webserver", errs)
}

func joinErrors(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s settings errors: %s", section, strings.Join(errs, "; "))
}
