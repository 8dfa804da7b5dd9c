package recorder

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the recorder logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("recorder")
}
