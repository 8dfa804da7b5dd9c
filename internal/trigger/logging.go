package trigger

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the trigger logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("trigger")
}
