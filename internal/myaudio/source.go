package myaudio

import (
	"context"
	"time"
)

// Block is a contiguous run of mono samples.
type Block struct {
	Timestamp time.Time // time of the first sample
	Samples   []float64 // normalized to [-1, 1]
}

// Duration returns the block length at sampleRate.
func (b Block) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(sampleRate) * float64(time.Second))
}

// Source delivers fixed-size sample blocks to the analyzer.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string
	// Start opens the source. SampleRate is valid after Start returns.
	Start(ctx context.Context) error
	// SampleRate returns the actual sample rate, which may differ from the
	// requested one.
	SampleRate() int
	// ReadBlock blocks until n samples are available. It returns io.EOF when
	// a finite source is exhausted and ErrStreamLost when a live device died.
	ReadBlock(ctx context.Context, n int) (Block, error)
	// Dropped returns the number of samples lost to buffer overruns.
	Dropped() uint64
	// Stop releases the source. It is safe to call more than once.
	Stop() error
}

// samplesToDuration converts a sample count to a duration.
func samplesToDuration(n uint64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(sampleRate) * float64(time.Second))
}
