package myaudio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// AudioInfo describes a decoded audio file.
type AudioInfo struct {
	SampleRate   int
	TotalSamples int // per channel, 0 when unknown
	NumChannels  int
	BitDepth     int
}

// pcmDecoder yields mono float samples from a file, io.EOF at the end.
type pcmDecoder interface {
	info() AudioInfo
	decode(dst []float64) ([]float64, error)
}

// FileSource replays a WAV or FLAC file as a block source. Timestamps are
// synthesized from StartTime and the sample position.
type FileSource struct {
	path     string
	start    time.Time
	realtime bool

	file    *os.File
	decoder pcmDecoder
	pending []float64
	eof     bool

	consumed uint64
	started  time.Time // wall clock at Start, for pacing
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithStartTime sets the timestamp of the first sample.
func WithStartTime(t time.Time) FileSourceOption {
	return func(s *FileSource) { s.start = t }
}

// WithRealtime paces ReadBlock so blocks are delivered at real time speed.
func WithRealtime(enabled bool) FileSourceOption {
	return func(s *FileSource) { s.realtime = enabled }
}

// NewFileSource creates a source for path. The file is opened by Start.
func NewFileSource(path string, opts ...FileSourceOption) *FileSource {
	s := &FileSource{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the file name.
func (s *FileSource) Name() string {
	return filepath.Base(s.path)
}

// Info returns the decoded file format, valid after Start.
func (s *FileSource) Info() AudioInfo {
	if s.decoder == nil {
		return AudioInfo{}
	}
	return s.decoder.info()
}

// SampleRate returns the file sample rate, valid after Start.
func (s *FileSource) SampleRate() int {
	return s.Info().SampleRate
}

// Dropped always returns 0, files are never overrun.
func (s *FileSource) Dropped() uint64 { return 0 }

// Start opens and validates the file.
func (s *FileSource) Start(_ context.Context) error {
	file, err := os.Open(s.path)
	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Context("operation", "open_audio_file").
			Build()
	}

	var decoder pcmDecoder
	switch ext := strings.ToLower(filepath.Ext(s.path)); ext {
	case ".wav":
		decoder, err = newWAVDecoder(file)
	case ".flac":
		decoder, err = newFLACDecoder(file)
	default:
		err = errors.Newf("unsupported audio file type %q, use .wav or .flac", ext).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}
	if err != nil {
		file.Close()
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileParsing).
			Context("path", s.path).
			Build()
	}

	s.file = file
	s.decoder = decoder
	s.started = time.Now()
	if s.start.IsZero() {
		s.start = s.started
	}

	info := decoder.info()
	GetLogger().Info("replaying audio file",
		logger.String("file", s.Name()),
		logger.Int("sample_rate", info.SampleRate),
		logger.Int("channels", info.NumChannels),
		logger.Int("bit_depth", info.BitDepth),
		logger.Bool("realtime", s.realtime))
	return nil
}

// ReadBlock returns the next n samples. A trailing partial block is
// discarded and io.EOF returned.
func (s *FileSource) ReadBlock(ctx context.Context, n int) (Block, error) {
	if s.decoder == nil {
		return Block{}, ErrNotStarted
	}

	for len(s.pending) < n && !s.eof {
		if err := ctx.Err(); err != nil {
			return Block{}, err
		}
		var err error
		s.pending, err = s.decoder.decode(s.pending)
		if errors.Is(err, io.EOF) {
			s.eof = true
			break
		}
		if err != nil {
			return Block{}, errors.New(err).
				Component("myaudio").
				Category(errors.CategoryFileParsing).
				Context("path", s.path).
				Build()
		}
	}

	if len(s.pending) < n {
		if len(s.pending) > 0 {
			GetLogger().Debug("discarding trailing partial block",
				logger.String("file", s.Name()),
				logger.Int("samples", len(s.pending)))
			s.pending = s.pending[:0]
		}
		return Block{}, io.EOF
	}

	rate := s.SampleRate()
	block := Block{
		Timestamp: s.start.Add(samplesToDuration(s.consumed, rate)),
		Samples:   make([]float64, n),
	}
	copy(block.Samples, s.pending[:n])
	s.pending = append(s.pending[:0], s.pending[n:]...)
	s.consumed += uint64(n)

	if s.realtime {
		due := s.started.Add(samplesToDuration(s.consumed, rate))
		if err := sleepUntil(ctx, due); err != nil {
			return Block{}, err
		}
	}

	return block, nil
}

// Stop closes the file.
func (s *FileSource) Stop() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// sleepUntil waits until t or until ctx is done.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
