package myaudio

import (
	"os"

	"github.com/tphakala/flac"
)

type flacDecoder struct {
	decoder *flac.Decoder
	meta    AudioInfo
	divisor float64
	ints    []int
}

func newFLACDecoder(file *os.File) (*flacDecoder, error) {
	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return nil, err
	}

	divisor, err := getAudioDivisor(decoder.BitsPerSample)
	if err != nil {
		return nil, err
	}

	return &flacDecoder{
		decoder: decoder,
		meta: AudioInfo{
			SampleRate:   decoder.SampleRate,
			TotalSamples: int(decoder.TotalSamples),
			NumChannels:  decoder.NChannels,
			BitDepth:     decoder.BitsPerSample,
		},
		divisor: divisor,
	}, nil
}

func (d *flacDecoder) info() AudioInfo { return d.meta }

// decode converts one FLAC frame of interleaved little-endian bytes.
func (d *flacDecoder) decode(dst []float64) ([]float64, error) {
	frame, err := d.decoder.Next()
	if err != nil {
		return dst, err
	}

	d.ints, err = decodeLE(d.ints[:0], frame, d.meta.BitDepth)
	if err != nil {
		return dst, err
	}
	return downmixInts(dst, d.ints, d.meta.NumChannels, d.divisor), nil
}
