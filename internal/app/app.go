// Package app assembles the analyzer: it connects an audio source to the
// processing pipeline and fans its output out to storage, MQTT and the web UI.
package app

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/analysis"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/buildinfo"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/conf"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/export"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/httpcontroller"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/httpcontroller/handlers"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/mqtt"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/myaudio"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/observability"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

// Options configures one analyzer run.
type Options struct {
	Settings    *conf.Settings
	Source      myaudio.Source
	BuildInfo   *buildinfo.Context
	WatchConfig bool // apply config file changes while running

	// newMQTTClient replaces the paho client in tests.
	newMQTTClient func(mqtt.Config) (mqtt.Client, error)
}

// App is an assembled analyzer ready to run.
type App struct {
	settings *conf.Settings
	metrics  *observability.Metrics
	log      logger.Logger

	dispatcher *analysis.Dispatcher
	pipeline   *analysis.Pipeline
	mqtt       *mqtt.Service          // nil when MQTT is disabled
	server     *httpcontroller.Server // nil when the web server is disabled
}

// New builds the processing configuration and every enabled output.
// Configuration errors are returned before any device or socket is opened.
func New(opts Options) (*App, error) {
	settings := opts.Settings
	if settings == nil || opts.Source == nil {
		return nil, errors.Newf("analyzer needs settings and an audio source").
			Component("app").
			Category(errors.CategoryValidation).
			Build()
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategorySystem).
			Build()
	}

	cfg, err := analysis.NewConfig(settings)
	if err != nil {
		return nil, err
	}

	a := &App{settings: settings, metrics: m, log: GetLogger()}

	var (
		spectrumSinks []analysis.SpectrumSink
		eventSinks    []analysis.EventSink
	)

	if settings.MQTT.Enabled {
		newClient := opts.newMQTTClient
		if newClient == nil {
			newClient = func(c mqtt.Config) (mqtt.Client, error) { return mqtt.NewClient(c, m.MQTT) }
		}
		a.mqtt, err = newMQTTService(settings, cfg, opts.BuildInfo, newClient, m)
		if err != nil {
			return nil, err
		}
		spectrumSinks = append(spectrumSinks, a.mqtt)
		eventSinks = append(eventSinks, a.mqtt)
	}

	var (
		sse    *handlers.SSEHandler
		events *handlers.EventStore
	)
	if settings.WebServer.Enabled {
		sse = handlers.NewSSEHandler(m.HTTP)
		events = handlers.NewEventStore(settings.WebServer.RecentEvents, handlers.DefaultEventRetention)
		spectrumSinks = append(spectrumSinks, sse)
		eventSinks = append(eventSinks, events)
	}

	var exporter analysis.Exporter
	if settings.Recording.Enabled {
		exporter = newExporter(settings)
	}

	a.dispatcher = analysis.NewDispatcher(analysis.DispatcherOptions{
		SpectrumSinks: spectrumSinks,
		EventSinks:    eventSinks,
		Exporter:      exporter,
		Metrics:       m.Analyzer,
	})

	a.pipeline, err = analysis.New(analysis.Options{
		Source:     opts.Source,
		Config:     cfg,
		SampleRate: settings.Audio.SampleRate,
		Dispatcher: a.dispatcher,
		Metrics:    m.Analyzer,
	})
	if err != nil {
		return nil, err
	}

	if settings.WebServer.Enabled {
		a.server = httpcontroller.New(httpcontroller.Options{
			Settings: settings,
			Status:   a.pipeline,
			SSE:      sse,
			Events:   events,
			Metrics:  m,
		})
	}

	if opts.WatchConfig {
		conf.Watch(a.Reconfigure)
	}

	return a, nil
}

// newMQTTService creates the MQTT publisher and its discovery announcer.
func newMQTTService(settings *conf.Settings, cfg *analysis.Config, info *buildinfo.Context,
	newClient func(mqtt.Config) (mqtt.Client, error), m *observability.Metrics) (*mqtt.Service, error) {
	mcfg := mqtt.ConfigFromSettings(settings)
	client, err := newClient(mcfg)
	if err != nil {
		return nil, err
	}

	var discovery *mqtt.Publisher
	if settings.MQTT.Discovery {
		discovery = mqtt.NewDiscoveryPublisher(client, &mqtt.DiscoveryConfig{
			DiscoveryPrefix: settings.MQTT.DiscoveryPrefix,
			BaseTopic:       mcfg.TopicBase,
			DeviceName:      settings.Main.Name,
			NodeID:          mqtt.SanitizeID(settings.Main.Name),
			Version:         info.Version(),
			Weighting:       cfg.Weighting.String(),
		}, m.MQTT)
	}

	svc := mqtt.NewService(client, mcfg, discovery, m.MQTT)
	svc.SetTriggerBands(TriggerBands(cfg))
	return svc, nil
}

// newExporter resolves ffmpeg for FLAC output. A missing binary leaves the
// path empty and the writer falls back to WAV.
func newExporter(settings *conf.Settings) *export.Writer {
	var ffmpeg string
	if strings.EqualFold(settings.Recording.Format, export.FormatFLAC) {
		path, err := conf.ValidateToolPath(settings.Audio.FfmpegPath, conf.GetFfmpegBinaryName())
		if err != nil {
			GetLogger().Warn("ffmpeg not found", logger.Error(err))
		}
		ffmpeg = path
	}
	return export.NewWriter(export.Config{
		Root:       settings.Recording.Storage,
		Format:     settings.Recording.Format,
		FfmpegPath: ffmpeg,
	})
}

// TriggerBands returns the band keys of the enabled band triggers.
func TriggerBands(cfg *analysis.Config) []string {
	var bands []string
	for _, spec := range cfg.Trigger.Specs {
		if spec.Kind == trigger.KindBand && spec.Enabled() {
			bands = append(bands, soundlevel.FormatBandKey(spec.Frequency))
		}
	}
	return bands
}

// Reconfigure builds a new processing configuration from settings and hands
// it to the pipeline. Settings that cannot be turned into a configuration
// are logged and the running one stays.
func (a *App) Reconfigure(settings *conf.Settings) {
	cfg, err := analysis.NewConfig(settings)
	if err != nil {
		a.log.Warn("reloaded settings rejected", logger.Error(err))
		return
	}
	a.pipeline.Reconfigure(cfg)
	if a.mqtt != nil {
		a.mqtt.SetTriggerBands(TriggerBands(cfg))
	}
}

// Pipeline returns the processing loop.
func (a *App) Pipeline() *analysis.Pipeline { return a.pipeline }

// Run processes audio until ctx ends or the source is exhausted. The outputs
// keep running until every queued event has been exported and published.
func (a *App) Run(ctx context.Context) error {
	runCtx, stopPipeline := context.WithCancel(ctx)
	defer stopPipeline()

	// Services outlive the pipeline so events finalized at shutdown still
	// reach MQTT and the web store.
	svcCtx, stopServices := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServices()

	a.dispatcher.Start()

	var services errgroup.Group
	if a.mqtt != nil {
		services.Go(func() error { return a.mqtt.Run(svcCtx) })
	}
	if a.server != nil {
		services.Go(func() error {
			if err := a.server.Start(svcCtx); err != nil {
				stopPipeline()
				return err
			}
			return nil
		})
	}

	a.log.Info("analyzer started",
		logger.Bool("mqtt", a.mqtt != nil),
		logger.Bool("web", a.server != nil),
		logger.Bool("recording", a.settings.Recording.Enabled))

	started := time.Now()
	runErr := a.pipeline.Run(runCtx)

	a.dispatcher.Close()
	stopServices()
	svcErr := services.Wait()

	a.log.Info("analyzer stopped", logger.Duration("uptime", time.Since(started)))
	return errors.Join(runErr, svcErr)
}
