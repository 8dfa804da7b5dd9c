// Package observability provides Prometheus metrics functionality for monitoring the sound analyzer.
package observability

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the observability logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
