// config.go: settings struct of the sound analyzer and functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix prefixes environment overrides, e.g. SOUNDANALYZER_MQTT_BROKER.
const EnvPrefix = "SOUNDANALYZER"

// MainSettings contains process wide settings.
type MainSettings struct {
	Name    string               // instance name, used as MQTT node name
	Logging logger.LoggingConfig // central logger configuration
}

// AudioSettings contains capture settings.
type AudioSettings struct {
	Source         string  // capture device name or id, empty for the system default
	SampleRate     int     // requested sample rate in Hz
	FallbackRates  []int   // rates tried when the requested one is refused
	BufferSeconds  float64 // capture ring buffer size in seconds
	FfmpegPath     string  // path to ffmpeg for FLAC export, empty to look up in PATH
	RealtimeReplay bool    `yaml:"-"` // pace file replay at real time, runtime value
}

// AnalyzerSettings contains band filtering and level settings.
type AnalyzerSettings struct {
	BandScheme        string  // 1-octave, 1/2-octave or 1/3-octave
	MinFrequency      float64 // lowest band center in Hz
	MaxFrequency      float64 // highest band center in Hz, 0 for no limit
	Weighting         string  // A, C or Z
	PublishInterval   float64 // telemetry interval in seconds
	AveragingPeriod   float64 // rolling average window in seconds
	BlockDuration     float64 // processing block length in seconds, 0 derives it from PublishInterval
	CalibrationFile   string  // JSON or YAML calibration file
	CalibrationOffset float64 // global offset in dB, added to the file offset
}

// TriggerRule is one simple trigger. Frequency is a band center such as
// "1000" or the literal "sum" for the aggregate level.
type TriggerRule struct {
	Frequency   string
	Threshold   float64 // dB(A), 0 disables the rule
	MinDuration float64 // seconds
}

// ProminentRule fires while one of two bands is the loudest band.
type ProminentRule struct {
	Enabled     bool
	FrequencyA  float64
	FrequencyB  float64
	MinDuration float64 // seconds
}

// TriggerSettings contains the event trigger configuration.
type TriggerSettings struct {
	Mode        string        // AND or OR
	DefaultHold float64       // seconds, used when no rule sets a min duration
	Rules       []TriggerRule // up to four simple triggers
	Prominent   ProminentRule
}

// RecordingSettings contains event recording settings.
type RecordingSettings struct {
	Enabled    bool
	PreBuffer  float64 // seconds before the hold began
	PostBuffer float64 // seconds after the condition cleared
	MaxLength  float64 // seconds, 0 for no limit
	Storage    string  // event output directory
	Format     string  // flac or wav
}

// MQTTSettings contains settings for MQTT integration.
type MQTTSettings struct {
	Enabled         bool   // true to enable MQTT
	Broker          string // MQTT (tcp://host:port)
	Username        string // MQTT username
	Password        string // MQTT password
	ClientID        string // client id, a random suffix is added when empty
	TopicBase       string // base topic, e.g. sound_analyzer
	Discovery       bool   // publish Home Assistant discovery configs
	DiscoveryPrefix string // Home Assistant discovery prefix
	Retain          bool   // retain telemetry messages
}

// WebServerSettings contains settings for the UI and API server.
type WebServerSettings struct {
	Enabled      bool
	Port         string
	RecentEvents int // number of events listed by the API
}

// SentrySettings contains optional error telemetry settings.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings is the complete application configuration.
type Settings struct {
	Debug bool

	Main      MainSettings
	Audio     AudioSettings
	Analyzer  AnalyzerSettings
	Trigger   TriggerSettings
	Recording RecordingSettings
	MQTT      MQTTSettings
	WebServer WebServerSettings
	Sentry    SentrySettings

	ConfigFile string `yaml:"-" mapstructure:"-"` // file the settings were read from, runtime value
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. An explicit
// configPath takes precedence over the default search paths; when no file
// exists a default one is written to the first search path.
func Load(configPath string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configPath); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshalSettings()
	if err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// unmarshalSettings decodes the current viper state into a new Settings.
func unmarshalSettings() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.ConfigFile = viper.ConfigFileUsed()
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(configPath string) error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return createDefaultConfig(configPath)
		}
		return viper.ReadInConfig()
	}

	viper.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig(filepath.Join(GetDefaultConfigPaths()[0], "config.yaml"))
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to configPath and reads it.
func createDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, getDefaultConfig(), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig returns the embedded default config.yaml.
func getDefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// The file is embedded at build time.
		panic(fmt.Sprintf("embedded config.yaml missing: %v", err))
	}
	return data
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// setSettings replaces the current settings instance after a reload.
func setSettings(s *Settings) {
	settingsMutex.Lock()
	settingsInstance = s
	settingsMutex.Unlock()
}

// SaveYAMLConfig writes settings to configPath. It overwrites the existing
// file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file first so the replace is atomic
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
