package mqtt

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/conf"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability/metrics"
)

// clientIDPrefix names generated client ids.
const clientIDPrefix = "ha-sound-analyzer"

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// client implements the Client interface on top of paho.
type client struct {
	config   Config
	internal paho.Client
	metrics  *metrics.MQTTMetrics
	log      logger.Logger
	warn     *rate.Limiter

	mu        sync.Mutex
	callbacks []func()
}

// ConfigFromSettings builds a client configuration from the MQTT settings.
// An empty client id gets a random suffix so several instances can share a broker.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	cfg.Retain = settings.MQTT.Retain
	if base := strings.Trim(settings.MQTT.TopicBase, "/"); base != "" {
		cfg.TopicBase = base
	}
	cfg.ClientID = settings.MQTT.ClientID
	if cfg.ClientID == "" {
		cfg.ClientID = clientIDPrefix + "-" + uuid.NewString()[:8]
	}
	return cfg
}

// NewClient creates a new MQTT client with the provided configuration.
func NewClient(cfg Config, m *metrics.MQTTMetrics) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.TopicBase == "" {
		cfg.TopicBase = DefaultConfig().TopicBase
	}
	if cfg.ClientID == "" {
		cfg.ClientID = clientIDPrefix + "-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}

	return &client{
		config:  cfg,
		metrics: m,
		log: GetLogger().With(
			logger.String("broker", cfg.Broker),
			logger.String("client_id", cfg.ClientID)),
		warn: rate.NewLimiter(rate.Every(time.Minute), 1),
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
// Once connected, paho reconnects on its own after connection loss.
func (c *client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		if err == nil {
			err = errors.NewStd("missing host")
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", c.config.Broker).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Context("operation", "resolve_broker").
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	if c.config.MaxReconnect > 0 {
		opts.SetMaxReconnectInterval(c.config.MaxReconnect)
	}
	opts.SetWill(c.config.AvailabilityTopic(), PayloadOffline, c.config.QoS, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.mu.Lock()
	c.internal = paho.NewClient(opts)
	internal := c.internal
	c.mu.Unlock()

	token := internal.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		internal.Disconnect(0)
		return errors.New(ctx.Err()).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("operation", "connect").
			Build()
	case <-time.After(c.config.ConnectTimeout):
		internal.Disconnect(0)
		return errors.Newf("connection timeout after %s", c.config.ConnectTimeout).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("operation", "connect").
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors("connect")
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("operation", "connect").
			Build()
	}

	return nil
}

// Publish sends a message and waits for the broker acknowledgement, bounded
// by the context and the configured publish timeout.
func (c *client) Publish(ctx context.Context, topic, payload string, retain bool) error {
	if !c.IsConnected() {
		c.metrics.IncrementErrors("not_connected")
		return ErrNotConnected
	}

	c.mu.Lock()
	internal := c.internal
	c.mu.Unlock()

	timer := c.metrics.StartPublishTimer()
	defer timer.ObserveDuration()

	token := internal.Publish(topic, c.config.QoS, retain, payload)
	wait := time.NewTimer(c.config.PublishTimeout)
	defer wait.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.metrics.IncrementErrors("timeout")
		return errors.New(ctx.Err()).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	case <-wait.C:
		c.metrics.IncrementErrors("timeout")
		return errors.Newf("publish timeout after %s", c.config.PublishTimeout).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors("publish")
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.metrics.ObserveMessageSize(float64(len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

// OnConnect registers fn to run after every successful connect.
func (c *client) OnConnect(fn func()) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

// Disconnect closes the connection to the MQTT broker. A clean disconnect
// suppresses the will, so the offline state is published explicitly.
func (c *client) Disconnect() {
	c.mu.Lock()
	internal := c.internal
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return
	}
	token := internal.Publish(c.config.AvailabilityTopic(), c.config.QoS, true, PayloadOffline)
	token.WaitTimeout(c.config.PublishTimeout)
	internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.metrics.UpdateConnectionStatus(false)
	c.log.Info("disconnected from MQTT broker")
}

func (c *client) onConnect(pc paho.Client) {
	c.metrics.UpdateConnectionStatus(true)
	c.log.Info("connected to MQTT broker")

	// Not waited on: the handler runs on paho's connection goroutine.
	pc.Publish(c.config.AvailabilityTopic(), c.config.QoS, true, PayloadOnline)
	c.metrics.IncrementMessagesDelivered(metrics.MQTTKindAvailability)

	c.mu.Lock()
	callbacks := append([]func(){}, c.callbacks...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		go fn()
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors("connection_lost")
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
}

func (c *client) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	c.metrics.IncrementReconnectAttempts()
	if c.warn.Allow() {
		c.log.Warn("reconnecting to MQTT broker")
	}
}
