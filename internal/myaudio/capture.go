package myaudio

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// DefaultStallTimeout marks a live stream lost when the device delivers
// nothing for this long.
const DefaultStallTimeout = 5 * time.Second

// CaptureConfig contains the settings for a live capture source.
type CaptureConfig struct {
	Device        string        // device name or id, empty for the system default
	SampleRate    int           // requested sample rate in Hz
	FallbackRates []int         // tried in order when SampleRate is refused
	BufferSeconds float64       // ring buffer size between callback and reader
	StallTimeout  time.Duration // 0 uses DefaultStallTimeout
}

// openPlan returns the sample rates to try: the requested rate, the
// fallbacks, then 0 for the device default.
func (c CaptureConfig) openPlan() []int {
	plan := make([]int, 0, len(c.FallbackRates)+2)
	if c.SampleRate > 0 {
		plan = append(plan, c.SampleRate)
	}
	for _, r := range c.FallbackRates {
		if r > 0 && !slices.Contains(plan, r) {
			plan = append(plan, r)
		}
	}
	return append(plan, 0)
}

// CaptureSource captures S16 mono audio from a sound card through malgo.
type CaptureSource struct {
	config CaptureConfig

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	rate   int

	name atomic.Value // string, read from the device callbacks

	buffer   atomic.Pointer[captureBuffer]
	stopping atomic.Bool
}

// NewCaptureSource creates a capture source. The device is opened by Start.
func NewCaptureSource(config CaptureConfig) *CaptureSource {
	if config.BufferSeconds <= 0 {
		config.BufferSeconds = 2
	}
	if config.StallTimeout == 0 {
		config.StallTimeout = DefaultStallTimeout
	}
	s := &CaptureSource{config: config}
	s.name.Store(config.Device)
	return s
}

// Name returns the selected device name.
func (s *CaptureSource) Name() string {
	if name, _ := s.name.Load().(string); name != "" {
		return name
	}
	return "default"
}

// SampleRate returns the rate the device was opened with.
func (s *CaptureSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Dropped returns the number of samples dropped because the reader fell behind.
func (s *CaptureSource) Dropped() uint64 {
	if b := s.buffer.Load(); b != nil {
		return b.dropped.Load()
	}
	return 0
}

// Start opens the device following the open plan and begins capturing.
func (s *CaptureSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return errors.Newf("capture source already running").
			Component("myaudio").
			Category(errors.CategoryState).
			Context("device", s.config.Device).
			Build()
	}

	devices, err := ListDevices()
	if err != nil {
		return err
	}
	index, err := selectDevice(devices, s.config.Device)
	if err != nil {
		return err
	}

	mctx, err := initContext()
	if err != nil {
		return err
	}

	// Device pointers are only valid for the context that enumerated them.
	var deviceID unsafe.Pointer
	if index >= 0 {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil || devices[index].Index >= len(infos) {
			_ = mctx.Uninit()
			mctx.Free()
			return errors.Newf("capture device %q disappeared", devices[index].Name).
				Component("myaudio").
				Category(errors.CategoryAudioSource).
				Build()
		}
		deviceID = infos[devices[index].Index].ID.Pointer()
		s.name.Store(devices[index].Name)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	}

	log := GetLogger().With(logger.String("device", s.Name()))
	var lastErr error
	for _, rate := range s.config.openPlan() {
		cfg := malgo.DefaultDeviceConfig(malgo.Capture)
		cfg.Capture.Format = malgo.FormatS16
		cfg.Capture.Channels = 1
		cfg.Capture.DeviceID = deviceID
		cfg.SampleRate = uint32(rate)
		cfg.Alsa.NoMMap = 1

		device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
		if err != nil {
			lastErr = err
			log.Warn("capture device refused sample rate",
				logger.Int("sample_rate", rate),
				logger.Error(err))
			continue
		}

		actual := int(device.SampleRate())
		s.buffer.Store(newCaptureBuffer(s.Name(), actual, s.config.BufferSeconds, s.config.StallTimeout, time.Now()))
		s.stopping.Store(false)

		if err := device.Start(); err != nil {
			lastErr = err
			device.Uninit()
			log.Warn("capture device failed to start",
				logger.Int("sample_rate", actual),
				logger.Error(err))
			continue
		}

		s.mctx = mctx
		s.device = device
		s.rate = actual
		if rate != 0 && actual != rate {
			log.Info("capture device uses a different sample rate",
				logger.Int("requested", rate),
				logger.Int("actual", actual))
		}
		log.Info("capture started",
			logger.Int("sample_rate", actual),
			logger.String("format", "s16"),
			logger.Int("channels", 1))

		go s.watch(ctx)
		return nil
	}

	s.buffer.Store(nil)
	_ = mctx.Uninit()
	mctx.Free()
	return errors.New(lastErr).
		Component("myaudio").
		Category(errors.CategoryAudioSource).
		Context("device", s.config.Device).
		Context("operation", "open_device").
		Context("rates_tried", len(s.config.openPlan())).
		Build()
}

// ReadBlock waits for n samples from the capture buffer.
func (s *CaptureSource) ReadBlock(ctx context.Context, n int) (Block, error) {
	b := s.buffer.Load()
	if b == nil {
		return Block{}, ErrNotStarted
	}
	return b.read(ctx, n)
}

// Stop stops and releases the device.
func (s *CaptureSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopping.Store(true)
	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		_ = s.mctx.Uninit()
		s.mctx.Free()
		s.mctx = nil
	}
	if b := s.buffer.Load(); b != nil {
		b.markLost("stopped")
	}
	return nil
}

// onData is the malgo data callback.
func (s *CaptureSource) onData(_, input []byte, _ uint32) {
	if b := s.buffer.Load(); b != nil {
		b.write(input)
	}
}

// onStop is called when the device stops, either by Stop or unexpectedly.
func (s *CaptureSource) onStop() {
	if s.stopping.Load() {
		return
	}
	GetLogger().Error("capture device stopped unexpectedly", logger.String("device", s.Name()))
	if b := s.buffer.Load(); b != nil {
		b.markLost("device stopped")
	}
}

// watch stops the device when the start context ends.
func (s *CaptureSource) watch(ctx context.Context) {
	b := s.buffer.Load()
	select {
	case <-ctx.Done():
		_ = s.Stop()
	case <-b.lost:
	}
}
