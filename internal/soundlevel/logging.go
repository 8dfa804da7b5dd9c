package soundlevel

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the soundlevel logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("soundlevel")
}
