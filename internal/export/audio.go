package export

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

// tempExt marks files that are still being written.
const tempExt = ".temp"

// toPCM16 converts normalized samples to clipped 16-bit integers.
func toPCM16(samples []float64) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		if math.IsNaN(s) {
			s = 0
		}
		s = max(-1, min(1, s))
		out[i] = int(math.Round(s * math.MaxInt16))
	}
	return out
}

// writeWAV writes mono 16-bit PCM through a temporary file.
func writeWAV(path string, samples []float64, sampleRate int) error {
	tempPath := path + tempExt
	f, err := os.Create(tempPath)
	if err != nil {
		return errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "create_wav").
			Build()
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Data:           toPCM16(samples),
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return errors.New(err).
			Component("export").
			Category(errors.CategoryExport).
			FileContext(path, 0).
			Context("operation", "encode_wav").
			Build()
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return errors.New(err).
			Component("export").
			Category(errors.CategoryExport).
			FileContext(path, 0).
			Context("operation", "finalize_wav").
			Build()
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return finalizeOutput(tempPath, path)
}

// encodeFLAC pipes little-endian s16 PCM into ffmpeg and writes a FLAC file
// through a temporary file.
func encodeFLAC(ctx context.Context, ffmpegPath, path string, samples []float64, sampleRate int) error {
	tempPath := path + tempExt

	pcm := new(bytes.Buffer)
	pcm.Grow(len(samples) * 2)
	for _, v := range toPCM16(samples) {
		_ = binary.Write(pcm, binary.LittleEndian, int16(v))
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, buildFFmpegArgs(tempPath, sampleRate)...)
	cmd.Stdin = pcm
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(tempPath)
		return errors.New(err).
			Component("export").
			Category(errors.CategoryCommandExecution).
			FileContext(path, 0).
			Context("operation", "ffmpeg_flac").
			Context("stderr", lastLine(stderr.String())).
			Build()
	}
	return finalizeOutput(tempPath, path)
}

// buildFFmpegArgs constructs the ffmpeg arguments for a mono s16 stdin input.
func buildFFmpegArgs(outputPath string, sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le", // Input format
		"-ar", strconv.Itoa(sampleRate), // Sample rate
		"-ac", "1", // Mono
		"-i", "-", // Read from stdin
		"-c:a", "flac",
		"-f", "flac",
		"-y",       // Overwrite output file if it exists
		outputPath, // Write to the temporary file
	}
}

// finalizeOutput renames the temporary file to its final name.
func finalizeOutput(tempPath, path string) error {
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "rename_temp").
			Build()
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
