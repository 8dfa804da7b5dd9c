package myaudio

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the myaudio logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio")
}
