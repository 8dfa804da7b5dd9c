// Package analysis runs the sound level processing loop: it pulls audio
// blocks from a source, computes band levels, evaluates triggers, records
// events and hands telemetry and finished events to the output sinks.
package analysis

import "github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"

// GetLogger returns the analysis module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}
