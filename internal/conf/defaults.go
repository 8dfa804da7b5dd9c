// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "sound_analyzer")
	viper.SetDefault("main.logging.defaultlevel", "info")
	viper.SetDefault("main.logging.timezone", "Local")
	viper.SetDefault("main.logging.console.enabled", true)
	viper.SetDefault("main.logging.console.level", "info")
	viper.SetDefault("main.logging.fileoutput.enabled", false)
	viper.SetDefault("main.logging.fileoutput.path", "logs/analyzer.log")
	viper.SetDefault("main.logging.fileoutput.level", "info")

	viper.SetDefault("audio.source", "")
	viper.SetDefault("audio.samplerate", 48000)
	viper.SetDefault("audio.fallbackrates", []int{44100})
	viper.SetDefault("audio.bufferseconds", 2.0)
	viper.SetDefault("audio.ffmpegpath", "")

	viper.SetDefault("analyzer.bandscheme", "1/3-octave")
	viper.SetDefault("analyzer.minfrequency", 20.0)
	viper.SetDefault("analyzer.maxfrequency", 20000.0)
	viper.SetDefault("analyzer.weighting", "A")
	viper.SetDefault("analyzer.publishinterval", 1.0)
	viper.SetDefault("analyzer.averagingperiod", 10.0)
	viper.SetDefault("analyzer.blockduration", 0.0)
	viper.SetDefault("analyzer.calibrationfile", "/data/calibration.json")
	viper.SetDefault("analyzer.calibrationoffset", 0.0)

	viper.SetDefault("trigger.mode", "OR")
	viper.SetDefault("trigger.defaulthold", 2.0)
	viper.SetDefault("trigger.rules", []map[string]any{})
	viper.SetDefault("trigger.prominent.enabled", false)
	viper.SetDefault("trigger.prominent.frequencya", 0.0)
	viper.SetDefault("trigger.prominent.frequencyb", 0.0)
	viper.SetDefault("trigger.prominent.minduration", 5.0)

	viper.SetDefault("recording.enabled", true)
	viper.SetDefault("recording.prebuffer", 20.0)
	viper.SetDefault("recording.postbuffer", 30.0)
	viper.SetDefault("recording.maxlength", 300.0)
	viper.SetDefault("recording.storage", "/media/sound_analyzer/events")
	viper.SetDefault("recording.format", "flac")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://core-mosquitto:1883")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.clientid", "")
	viper.SetDefault("mqtt.topicbase", "sound_analyzer")
	viper.SetDefault("mqtt.discovery", true)
	viper.SetDefault("mqtt.discoveryprefix", "homeassistant")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8099")
	viper.SetDefault("webserver.recentevents", 50)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
