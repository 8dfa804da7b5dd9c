// discovery.go: Home Assistant MQTT auto-discovery implementation.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
)

// Sensor keys below the node in discovery topics.
const (
	SensorSum        = "sum"
	SensorLastEvent  = "last_event"
	sensorBandPrefix = "band_"
)

// deviceIDPrefix is the standard prefix for all device identifiers
const deviceIDPrefix = "ha_sound_analyzer"

// idSanitizer replaces invalid characters in IDs with underscores.
// Home Assistant requires IDs to contain only [a-zA-Z0-9_-].
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID ensures the ID contains only valid characters for MQTT topics and HA entity IDs.
func SanitizeID(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// DiscoveryPayload represents a Home Assistant MQTT discovery message.
type DiscoveryPayload struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	StateTopic          string           `json:"state_topic"`
	ValueTemplate       string           `json:"value_template,omitempty"`
	JSONAttributesTopic string           `json:"json_attributes_topic,omitempty"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	Icon                string           `json:"icon,omitempty"`
	AvailabilityTopic   string           `json:"availability_topic,omitempty"`
	Device              DiscoveryDevice  `json:"device"`
	Origin              *DiscoveryOrigin `json:"origin,omitempty"`
}

// DiscoveryDevice represents the device information in a discovery payload.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryOrigin provides information about the software creating the discovery message.
type DiscoveryOrigin struct {
	Name      string `json:"name"`
	SWVersion string `json:"sw_version,omitempty"`
}

// DiscoveryConfig holds configuration for generating discovery payloads.
type DiscoveryConfig struct {
	DiscoveryPrefix string // Home Assistant discovery topic prefix (default: homeassistant)
	BaseTopic       string // Base MQTT topic for state messages
	DeviceName      string // Device name shown in Home Assistant
	NodeID          string // Node identifier (typically main.name from config)
	Version         string // Software version
	Weighting       string // weighting letter shown in the unit, e.g. A
}

// Publisher handles publishing Home Assistant discovery messages.
type Publisher struct {
	client  Client
	config  DiscoveryConfig
	metrics *metrics.MQTTMetrics
}

// NewDiscoveryPublisher creates a new discovery publisher.
func NewDiscoveryPublisher(client Client, config *DiscoveryConfig, m *metrics.MQTTMetrics) *Publisher {
	cfg := *config
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Sound Analyzer"
	}
	if cfg.Weighting == "" {
		cfg.Weighting = "A"
	}
	return &Publisher{client: client, config: cfg, metrics: m}
}

// Sensors returns the discovery payloads keyed by sensor key: the sum level,
// the last event and one level sensor per trigger band.
func (p *Publisher) Sensors(bands []string) map[string]*DiscoveryPayload {
	nodeID := SanitizeID(p.config.NodeID)
	deviceID := fmt.Sprintf("%s_%s", deviceIDPrefix, nodeID)
	device := DiscoveryDevice{
		Identifiers:  []string{deviceID},
		Name:         p.config.DeviceName,
		Manufacturer: "HA Sound Analyzer",
		Model:        "Octave Band Analyzer",
		SWVersion:    p.config.Version,
	}
	availability := p.config.BaseTopic + "/" + TopicAvailability
	unit := fmt.Sprintf("dB(%s)", p.config.Weighting)

	sensors := map[string]*DiscoveryPayload{
		SensorSum: {
			Name:              "Sum Level",
			UniqueID:          deviceID + "_" + SensorSum,
			StateTopic:        p.config.BaseTopic + "/" + TopicSum,
			UnitOfMeasurement: unit,
			DeviceClass:       "sound_pressure",
			StateClass:        "measurement",
			Icon:              "mdi:volume-high",
			AvailabilityTopic: availability,
			Device:            device,
		},
		SensorLastEvent: {
			Name:                "Last Event",
			UniqueID:            deviceID + "_" + SensorLastEvent,
			StateTopic:          p.config.BaseTopic + "/" + TopicEvent,
			ValueTemplate:       "{{ value_json.id }}",
			JSONAttributesTopic: p.config.BaseTopic + "/" + TopicEvent,
			Icon:                "mdi:record-rec",
			AvailabilityTopic:   availability,
			Device:              device,
		},
	}

	for _, band := range bands {
		id := SanitizeID(band)
		sensors[sensorBandPrefix+id] = &DiscoveryPayload{
			Name:              fmt.Sprintf("Band %s Hz", band),
			UniqueID:          deviceID + "_" + sensorBandPrefix + id,
			StateTopic:        BandTopic(p.config.BaseTopic, band),
			UnitOfMeasurement: unit,
			DeviceClass:       "sound_pressure",
			StateClass:        "measurement",
			Icon:              "mdi:sine-wave",
			AvailabilityTopic: availability,
			Device:            device,
		}
	}

	for _, s := range sensors {
		s.Origin = &DiscoveryOrigin{Name: "ha-sound-analyzer", SWVersion: p.config.Version}
	}
	return sensors
}

// PublishDiscovery publishes retained discovery configs for all sensors.
// It continues after a failed sensor and returns the first error.
func (p *Publisher) PublishDiscovery(ctx context.Context, bands []string) error {
	log := GetLogger()
	log.Info("publishing Home Assistant discovery messages",
		logger.Int("bands", len(bands)),
		logger.String("discovery_prefix", p.config.DiscoveryPrefix))

	var firstErr error
	for key, payload := range p.Sensors(bands) {
		if err := p.publishPayload(ctx, p.SensorTopic(key), payload); err != nil {
			log.Error("failed to publish sensor discovery",
				logger.String("sensor", key),
				logger.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RemoveDiscovery publishes empty retained payloads for the band sensors
// that are no longer in use.
func (p *Publisher) RemoveDiscovery(ctx context.Context, bands []string) error {
	var firstErr error
	for _, band := range bands {
		topic := p.SensorTopic(sensorBandPrefix + SanitizeID(band))
		if err := p.client.Publish(ctx, topic, "", true); err != nil {
			GetLogger().Warn("failed to remove sensor discovery",
				logger.String("topic", topic),
				logger.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Publisher) publishPayload(ctx context.Context, topic string, payload *DiscoveryPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	GetLogger().Debug("publishing discovery message",
		logger.String("topic", topic),
		logger.Int("payload_size", len(data)))

	// Discovery messages must be retained
	if err := p.client.Publish(ctx, topic, string(data), true); err != nil {
		return err
	}
	p.metrics.IncrementMessagesDelivered(metrics.MQTTKindDiscovery)
	return nil
}

// SensorTopic constructs the discovery topic for a sensor key.
func (p *Publisher) SensorTopic(key string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", p.config.DiscoveryPrefix, SanitizeID(p.config.NodeID), key)
}

// BandTopic returns the state topic of a single band level.
func BandTopic(base, band string) string {
	return base + "/" + TopicBand + "/" + SanitizeID(band)
}
