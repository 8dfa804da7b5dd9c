package myaudio

import (
	"encoding/binary"
	"fmt"
)

// getAudioDivisor returns the full scale value for a PCM bit depth.
func getAudioDivisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio bit depth: %d", bitDepth)
	}
}

// s16ToFloat appends little-endian signed 16-bit samples to dst as floats.
func s16ToFloat(dst []float64, src []byte) []float64 {
	for i := 0; i+1 < len(src); i += 2 {
		dst = append(dst, float64(int16(binary.LittleEndian.Uint16(src[i:])))/32768.0)
	}
	return dst
}

// downmixInts averages interleaved integer frames into mono floats.
func downmixInts(dst []float64, src []int, channels int, divisor float64) []float64 {
	if channels <= 1 {
		for _, s := range src {
			dst = append(dst, float64(s)/divisor)
		}
		return dst
	}
	for i := 0; i+channels <= len(src); i += channels {
		var sum float64
		for c := range channels {
			sum += float64(src[i+c])
		}
		dst = append(dst, sum/float64(channels)/divisor)
	}
	return dst
}

// decodeLE decodes interleaved little-endian PCM bytes into ints.
func decodeLE(dst []int, src []byte, bitDepth int) ([]int, error) {
	width := bitDepth / 8
	switch bitDepth {
	case 16, 24, 32:
	default:
		return dst, fmt.Errorf("unsupported audio bit depth: %d", bitDepth)
	}
	for i := 0; i+width <= len(src); i += width {
		var sample int32
		switch bitDepth {
		case 16:
			sample = int32(int16(binary.LittleEndian.Uint16(src[i:])))
		case 24:
			sample = int32(src[i]) | int32(src[i+1])<<8 | int32(src[i+2])<<16
			// sign extend
			sample = sample << 8 >> 8
		case 32:
			sample = int32(binary.LittleEndian.Uint32(src[i:]))
		}
		dst = append(dst, int(sample))
	}
	return dst, nil
}
