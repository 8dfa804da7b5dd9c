// Package mqtt publishes spectra, levels and finalized events to an MQTT
// broker and announces them to Home Assistant through MQTT discovery.
package mqtt

import (
	"context"
	"time"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// Availability payloads published on the availability topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topic suffixes below the configured base topic.
const (
	TopicAvailability = "availability"
	TopicSpectrum     = "spectrum"
	TopicSum          = "sum"
	TopicEvent        = "event"
	TopicBand         = "band"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic, payload string, retain bool) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// OnConnect registers a callback run after every successful (re)connect.
	OnConnect(fn func())

	// Disconnect publishes the offline availability and closes the connection.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	TopicBase         string // base topic for state messages
	Retain            bool   // true to retain telemetry messages
	QoS               byte
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	MaxReconnect      time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		TopicBase:         "sound_analyzer",
		QoS:               1,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		MaxReconnect:      2 * time.Minute,
	}
}

// AvailabilityTopic returns the topic carrying the online/offline state.
func (c *Config) AvailabilityTopic() string {
	return c.topic(TopicAvailability)
}

func (c *Config) topic(parts ...string) string {
	t := c.TopicBase
	for _, p := range parts {
		t += "/" + p
	}
	return t
}

// GetLogger returns the mqtt module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
