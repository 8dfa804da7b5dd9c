package myaudio

import (
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

// Error sentinel values for common myaudio errors
var (
	// ErrStreamLost is returned by ReadBlock once the capture device stopped
	// delivering audio. It is distinct from silence, which still yields blocks.
	ErrStreamLost = errors.NewStd("audio stream lost")

	// ErrNotStarted is returned when reading from a source before Start.
	ErrNotStarted = errors.NewStd("audio source not started")
)

// streamLost wraps ErrStreamLost with source context.
func streamLost(source, reason string) error {
	return errors.New(ErrStreamLost).
		Component("myaudio").
		Category(errors.CategoryAudioSource).
		Context("source", source).
		Context("reason", reason).
		Build()
}
