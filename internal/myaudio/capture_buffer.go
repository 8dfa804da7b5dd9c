package myaudio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
)

const (
	// pollInterval is how often a waiting reader checks the ring buffer.
	pollInterval = 10 * time.Millisecond
	// bytesPerSample for S16 mono capture.
	bytesPerSample = 2
)

// captureBuffer decouples the device callback from the processing loop. The
// callback writes S16 bytes; the reader takes fixed-size blocks. Bytes that do
// not fit are dropped and counted.
type captureBuffer struct {
	name       string
	rb         *ringbuffer.RingBuffer
	sampleRate int
	anchor     time.Time     // wall time of the first sample
	stall      time.Duration // no data for this long means the stream is lost

	consumed  uint64 // samples handed out, reader goroutine only
	dropped   atomic.Uint64
	lastWrite atomic.Int64 // unix nanos of the last callback

	lost       chan struct{}
	lostOnce   sync.Once
	lostReason atomic.Value // string
}

// newCaptureBuffer allocates a buffer holding seconds of audio at sampleRate.
func newCaptureBuffer(name string, sampleRate int, seconds float64, stall time.Duration, now time.Time) *captureBuffer {
	capacity := int(seconds * float64(sampleRate) * bytesPerSample)
	if capacity < sampleRate*bytesPerSample/10 {
		capacity = sampleRate * bytesPerSample / 10
	}
	// Keep whole samples
	capacity -= capacity % bytesPerSample

	b := &captureBuffer{
		name:       name,
		rb:         ringbuffer.New(capacity),
		sampleRate: sampleRate,
		anchor:     now,
		stall:      stall,
		lost:       make(chan struct{}),
	}
	b.lastWrite.Store(now.UnixNano())
	return b
}

// write stores device bytes. It never blocks.
func (b *captureBuffer) write(p []byte) {
	b.lastWrite.Store(time.Now().UnixNano())
	if len(p) == 0 {
		return
	}
	n, _ := b.rb.Write(p)
	if n < len(p) {
		b.dropped.Add(uint64((len(p) - n) / bytesPerSample))
	}
}

// markLost signals readers that no more audio will arrive.
func (b *captureBuffer) markLost(reason string) {
	b.lostOnce.Do(func() {
		b.lostReason.Store(reason)
		close(b.lost)
	})
}

// isLost reports whether markLost was called.
func (b *captureBuffer) isLost() bool {
	select {
	case <-b.lost:
		return true
	default:
		return false
	}
}

// read waits for n samples. Buffered audio is drained before a lost stream
// is reported.
func (b *captureBuffer) read(ctx context.Context, n int) (Block, error) {
	need := n * bytesPerSample
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if b.rb.Length() >= need {
			return b.take(n, need)
		}

		if b.isLost() {
			reason, _ := b.lostReason.Load().(string)
			return Block{}, streamLost(b.name, reason)
		}

		if b.stall > 0 {
			idle := time.Since(time.Unix(0, b.lastWrite.Load()))
			if idle > b.stall {
				b.markLost("no audio data for " + idle.Round(time.Millisecond).String())
				continue
			}
		}

		select {
		case <-ctx.Done():
			return Block{}, ctx.Err()
		case <-b.lost:
		case <-ticker.C:
		}
	}
}

// take reads exactly need bytes, which the caller verified are buffered.
func (b *captureBuffer) take(n, need int) (Block, error) {
	raw := make([]byte, need)
	got := 0
	for got < need {
		m, err := b.rb.Read(raw[got:])
		got += m
		if err != nil && m == 0 {
			break
		}
	}

	position := b.consumed + b.dropped.Load()
	ts := b.anchor.Add(samplesToDuration(position, b.sampleRate))
	b.consumed += uint64(n)

	return Block{
		Timestamp: ts,
		Samples:   s16ToFloat(make([]float64, 0, n), raw[:got]),
	}, nil
}
