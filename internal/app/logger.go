package app

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the app module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}
