package conf

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// Watch reloads the settings whenever the config file changes. Valid
// settings replace the current instance and are passed to onChange; invalid
// ones are logged and ignored so the running configuration stays.
func Watch(onChange func(*Settings)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log := GetLogger().With(logger.String("file", e.Name))

		settings, err := reload()
		if err != nil {
			log.Warn("config reload rejected, keeping current settings", logger.Error(err))
			return
		}

		log.Info("config reloaded")
		if onChange != nil {
			onChange(settings)
		}
	})
	viper.WatchConfig()
}

// reload decodes and validates the current viper state.
func reload() (*Settings, error) {
	settings, err := unmarshalSettings()
	if err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	setSettings(settings)
	return settings, nil
}
