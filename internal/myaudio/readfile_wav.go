package myaudio

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavReadFrames is the number of frames decoded per call.
const wavReadFrames = 8192

type wavDecoder struct {
	decoder *wav.Decoder
	meta    AudioInfo
	divisor float64
	buf     *audio.IntBuffer
}

func newWAVDecoder(file *os.File) (*wavDecoder, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("input is not a valid WAV audio file")
	}

	if decoder.NumChans < 1 {
		return nil, fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}
	divisor, err := getAudioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, err
	}

	channels := int(decoder.NumChans)
	meta := AudioInfo{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: channels,
		BitDepth:    int(decoder.BitDepth),
	}
	if d, err := decoder.Duration(); err == nil {
		meta.TotalSamples = int(d.Seconds() * float64(decoder.SampleRate))
	}

	return &wavDecoder{
		decoder: decoder,
		meta:    meta,
		divisor: divisor,
		buf: &audio.IntBuffer{
			Data:   make([]int, wavReadFrames*channels),
			Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
		},
	}, nil
}

func (d *wavDecoder) info() AudioInfo { return d.meta }

func (d *wavDecoder) decode(dst []float64) ([]float64, error) {
	n, err := d.decoder.PCMBuffer(d.buf)
	if err != nil {
		return dst, err
	}
	if n == 0 {
		return dst, io.EOF
	}
	return downmixInts(dst, d.buf.Data[:n], d.meta.NumChannels, d.divisor), nil
}
