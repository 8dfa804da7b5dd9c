package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Audio: AudioSettings{SampleRate: 48000, FallbackRates: []int{44100}, BufferSeconds: 2},
		Analyzer: AnalyzerSettings{
			BandScheme:      "1/3-octave",
			MinFrequency:    20,
			MaxFrequency:    20000,
			Weighting:       "A",
			PublishInterval: 1,
			AveragingPeriod: 10,
		},
		Trigger: TriggerSettings{
			Mode:  "OR",
			Rules: []TriggerRule{{Frequency: "1000", Threshold: 60, MinDuration: 2}},
		},
		Recording: RecordingSettings{Enabled: true, PreBuffer: 5, PostBuffer: 3, MaxLength: 30, Storage: "/tmp/events", Format: "flac"},
		MQTT:      MQTTSettings{Enabled: true, Broker: "tcp://localhost:1883", TopicBase: "sound"},
		WebServer: WebServerSettings{Enabled: true, Port: "8099"},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"low sample rate", func(s *Settings) { s.Audio.SampleRate = 100 }, "audio sample rate"},
		{"unknown scheme", func(s *Settings) { s.Analyzer.BandScheme = "1/12-octave" }, "unknown band scheme"},
		{"empty band range", func(s *Settings) { s.Analyzer.MinFrequency, s.Analyzer.MaxFrequency = 30000, 40000 }, "no 1/3-octave bands"},
		{"B weighting", func(s *Settings) { s.Analyzer.Weighting = "B" }, "unsupported weighting"},
		{"zero publish interval", func(s *Settings) { s.Analyzer.PublishInterval = 0 }, "publish interval"},
		{"bad mode", func(s *Settings) { s.Trigger.Mode = "XOR" }, "invalid trigger mode"},
		{"bad selector", func(s *Settings) { s.Trigger.Rules[0].Frequency = "loud" }, "rule 1"},
		{"too many rules", func(s *Settings) {
			s.Trigger.Rules = make([]TriggerRule, 5)
			for i := range s.Trigger.Rules {
				s.Trigger.Rules[i] = TriggerRule{Frequency: "sum", Threshold: 50}
			}
		}, "at most 4 trigger rules"},
		{"prominent without candidates", func(s *Settings) { s.Trigger.Prominent = ProminentRule{Enabled: true} }, "candidate frequency"},
		{"negative buffers", func(s *Settings) { s.Recording.PreBuffer = -1 }, "must not be negative"},
		{"missing storage", func(s *Settings) { s.Recording.Storage = " " }, "storage path"},
		{"bad format", func(s *Settings) { s.Recording.Format = "mp3" }, "unsupported recording format"},
		{"bad broker", func(s *Settings) { s.MQTT.Broker = "localhost" }, "invalid broker URL"},
		{"wildcard topic", func(s *Settings) { s.MQTT.TopicBase = "sound/#" }, "wildcards"},
		{"mqtt disabled skips checks", func(s *Settings) { s.MQTT = MQTTSettings{} }, ""},
		{"bad port", func(s *Settings) { s.WebServer.Port = "http" }, "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
