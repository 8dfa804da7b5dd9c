// Package handlers implements the HTTP handlers of the web UI and JSON API.
package handlers

import (
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/analysis"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// StatusProvider returns the latest processing snapshot, nil before the
// first block.
type StatusProvider interface {
	Status() *analysis.Status
}

// Handlers groups the state shared by the route handlers.
type Handlers struct {
	Status StatusProvider
	SSE    *SSEHandler
	Events *EventStore
}

// New creates the handler set. status may be nil until the pipeline exists.
func New(status StatusProvider, sse *SSEHandler, events *EventStore) *Handlers {
	return &Handlers{Status: status, SSE: sse, Events: events}
}

// GetLogger returns the http module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("http")
}
