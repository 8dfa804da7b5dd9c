// Package metrics provides constants used across metric definitions.
package metrics

// Status label values.
const (
	// StatusSuccess marks a successful operation.
	StatusSuccess = "success"
	// StatusError marks a failed operation.
	StatusError = "error"
)

// Sink label values for asynchronous outputs of the analyzer.
const (
	// SinkTelemetry is the spectrum telemetry output (MQTT, SSE).
	SinkTelemetry = "telemetry"
	// SinkEvents is the finalized event output (export, MQTT).
	SinkEvents = "events"
)

// MQTT message kinds.
const (
	MQTTKindSpectrum     = "spectrum"
	MQTTKindSum          = "sum"
	MQTTKindBand         = "band"
	MQTTKindEvent        = "event"
	MQTTKindDiscovery    = "discovery"
	MQTTKindAvailability = "availability"
)

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~400ms range).
	BucketStart100us = 0.0001
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)
