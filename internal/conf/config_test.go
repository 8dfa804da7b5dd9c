package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper isolates tests from the global viper instance.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	settings, err := Load(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "default config file should be written")

	assert.Equal(t, path, settings.ConfigFile)
	assert.Equal(t, 48000, settings.Audio.SampleRate)
	assert.Equal(t, "1/3-octave", settings.Analyzer.BandScheme)
	assert.Equal(t, "A", settings.Analyzer.Weighting)
	assert.InDelta(t, 1.0, settings.Analyzer.PublishInterval, 1e-12)
	assert.Equal(t, "OR", settings.Trigger.Mode)
	require.Len(t, settings.Trigger.Rules, 2)
	assert.Equal(t, "80", settings.Trigger.Rules[0].Frequency)
	assert.InDelta(t, 20.0, settings.Recording.PreBuffer, 1e-12)
	assert.Equal(t, "info", settings.Main.Logging.DefaultLevel)
	assert.Same(t, settings, GetSettings())
}

func TestLoadAppliesFileAndEnvironment(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analyzer:
  bandscheme: 1-octave
  weighting: C
trigger:
  mode: AND
  rules:
    - frequency: 1000
      threshold: 60
      minduration: 2
    - frequency: sum
      threshold: 65
recording:
  prebuffer: 5
  postbuffer: 3
  maxlength: 30
`), 0o600))
	t.Setenv("SOUNDANALYZER_ANALYZER_WEIGHTING", "Z")
	t.Setenv("MQTT_BROKER", "tcp://broker.local:1883")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1-octave", settings.Analyzer.BandScheme)
	assert.Equal(t, "Z", settings.Analyzer.Weighting, "environment overrides the file")
	assert.Equal(t, "tcp://broker.local:1883", settings.MQTT.Broker)
	assert.Equal(t, "AND", settings.Trigger.Mode)
	require.Len(t, settings.Trigger.Rules, 2)
	assert.Equal(t, "1000", settings.Trigger.Rules[0].Frequency)
	assert.Equal(t, "sum", settings.Trigger.Rules[1].Frequency)
	assert.InDelta(t, 3.0, settings.Recording.PostBuffer, 1e-12)
	// Unset keys keep their defaults.
	assert.Equal(t, 48000, settings.Audio.SampleRate)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analyzer:\n  weighting: B\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Errors)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()

	settings, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	settings.Analyzer.Weighting = "C"
	settings.Trigger.Rules = []TriggerRule{{Frequency: "31.5", Threshold: 70, MinDuration: 1}}

	out := filepath.Join(dir, "saved.yaml")
	require.NoError(t, SaveYAMLConfig(out, settings))

	viper.Reset()
	reloaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, "C", reloaded.Analyzer.Weighting)
	assert.Equal(t, settings.Trigger.Rules, reloaded.Trigger.Rules)
	assert.Equal(t, settings.Main.Logging.DefaultLevel, reloaded.Main.Logging.DefaultLevel)
}

func TestReloadKeepsSettingsOnInvalidChange(t *testing.T) {
	resetViper(t)

	original, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	viper.Set("analyzer.weighting", "B")
	_, err = reload()
	require.Error(t, err)
	assert.Same(t, original, GetSettings())

	viper.Set("analyzer.weighting", "Z")
	updated, err := reload()
	require.NoError(t, err)
	assert.Equal(t, "Z", updated.Analyzer.Weighting)
	assert.Same(t, updated, GetSettings())
}
