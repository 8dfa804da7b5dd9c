package export

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the export module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("export")
}
