package mqtt

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/analysis"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
)

const (
	retryStart       = time.Second
	discoveryTimeout = 30 * time.Second
)

// Service publishes analyzer output. It implements analysis.SpectrumSink and
// analysis.EventSink.
type Service struct {
	client    Client
	config    Config
	discovery *Publisher // nil when discovery is disabled
	metrics   *metrics.MQTTMetrics
	log       logger.Logger

	mu    sync.Mutex
	bands []string // trigger bands with their own state topic
}

// NewService creates a publisher over client. discovery may be nil.
func NewService(client Client, cfg Config, discovery *Publisher, m *metrics.MQTTMetrics) *Service {
	s := &Service{
		client:    client,
		config:    cfg,
		discovery: discovery,
		metrics:   m,
		log:       GetLogger().With(logger.String("topic_base", cfg.TopicBase)),
	}
	client.OnConnect(s.announce)
	return s
}

// Name identifies the sink in logs and metrics.
func (s *Service) Name() string { return "mqtt" }

// Run connects, retrying with backoff until the first connection succeeds,
// and disconnects when ctx is done. Later reconnects are handled by the client.
func (s *Service) Run(ctx context.Context) error {
	backoff := retryStart
	maxBackoff := s.config.MaxReconnect
	if maxBackoff <= 0 {
		maxBackoff = DefaultConfig().MaxReconnect
	}

	for {
		err := s.client.Connect(ctx)
		if err == nil {
			break
		}
		s.metrics.IncrementReconnectAttempts()
		s.log.Warn("failed to connect to MQTT broker",
			logger.Error(err),
			logger.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}

	<-ctx.Done()
	s.client.Disconnect()
	return nil
}

// SetTriggerBands sets the bands published on their own topic and announced
// as sensors. Sensors of bands no longer in use are removed.
func (s *Service) SetTriggerBands(bands []string) {
	s.mu.Lock()
	old := s.bands
	s.bands = slices.Clone(bands)
	s.mu.Unlock()

	if slices.Equal(old, bands) || s.discovery == nil || !s.client.IsConnected() {
		return
	}

	var removed []string
	for _, b := range old {
		if !slices.Contains(bands, b) {
			removed = append(removed, b)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	if len(removed) > 0 {
		if err := s.discovery.RemoveDiscovery(ctx, removed); err != nil {
			s.log.Warn("stale band sensors not removed",
				logger.Int("bands", len(removed)),
				logger.Error(err))
		}
	}
	if err := s.discovery.PublishDiscovery(ctx, bands); err != nil {
		s.log.Warn("Home Assistant discovery incomplete", logger.Error(err))
	}
}

func (s *Service) triggerBands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bands
}

// announce runs after every connect: retained discovery configs are
// republished so a restarted broker learns them again.
func (s *Service) announce() {
	if s.discovery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	if err := s.discovery.PublishDiscovery(ctx, s.triggerBands()); err != nil {
		s.log.Warn("Home Assistant discovery incomplete", logger.Error(err))
	}
}

// PublishSpectrum publishes the spectrum JSON, the sum level and the level
// of every trigger band.
func (s *Service) PublishSpectrum(ctx context.Context, p *analysis.SpectrumPayload) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(p)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", TopicSpectrum).
			Build()
	}
	if err := s.publish(ctx, s.config.topic(TopicSpectrum), string(data), metrics.MQTTKindSpectrum); err != nil {
		return err
	}
	if err := s.publish(ctx, s.config.topic(TopicSum), formatLevel(p.Sum), metrics.MQTTKindSum); err != nil {
		return err
	}

	for _, band := range s.triggerBands() {
		i := slices.Index(p.Bands, band)
		if i < 0 || i >= len(p.Values) {
			continue
		}
		if err := s.publish(ctx, BandTopic(s.config.TopicBase, band), formatLevel(p.Values[i]), metrics.MQTTKindBand); err != nil {
			return err
		}
	}
	return nil
}

// PublishEvent publishes the summary of a finalized event.
func (s *Service) PublishEvent(ctx context.Context, e *analysis.Event) error {
	if e == nil || e.Record == nil {
		return nil
	}
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(analysis.NewEventSummary(e))
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("event_id", e.Record.ID).
			Build()
	}
	if err := s.publish(ctx, s.config.topic(TopicEvent), string(data), metrics.MQTTKindEvent); err != nil {
		return err
	}
	s.log.Info("event published", logger.String("event_id", e.Record.ID))
	return nil
}

func (s *Service) publish(ctx context.Context, topic, payload, kind string) error {
	if err := s.client.Publish(ctx, topic, payload, s.config.Retain); err != nil {
		return err
	}
	s.metrics.IncrementMessagesDelivered(kind)
	return nil
}

func formatLevel(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
