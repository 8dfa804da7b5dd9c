package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/weighting"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/recorder"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/trigger"
)

func testRecord(t *testing.T) *recorder.EventRecord {
	t.Helper()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	centers := []float64{80, 160}
	frames := make([]recorder.Frame, 3)
	for i := range frames {
		ts := start.Add(time.Duration(i) * 100 * time.Millisecond)
		samples := make([]float64, 800)
		for j := range samples {
			samples[j] = 0.5 * math.Sin(2*math.Pi*80*float64(j)/8000)
		}
		frames[i] = recorder.Frame{
			Block: recorder.Block{Seq: uint64(i), Timestamp: ts, Duration: 100 * time.Millisecond, Samples: samples},
			Snapshot: soundlevel.LevelSnapshot{
				Timestamp: ts,
				Centers:   centers,
				Levels:    []soundlevel.Levels{{Z: 60, A: 40, C: 59}, {Z: 50, A: 37, C: 49}},
			},
		}
	}

	return &recorder.EventRecord{
		ID:          start.Format(recorder.IDLayout),
		TriggeredAt: start.Add(200 * time.Millisecond),
		Start:       start,
		End:         start.Add(300 * time.Millisecond),
		SampleRate:  8000,
		Weighting:   weighting.TypeA,
		Centers:     centers,
		Frames:      frames,
		Triggers: []trigger.LogEntry{
			{Label: "band_80", Start: start, StartLevel: 40, Duration: 250 * time.Millisecond},
		},
		Stats: recorder.Stats{
			PeakDB:           41.8,
			AvgDB:            41.8,
			BandPeaks:        map[string]float64{"80": 40, "160": 37},
			TriggerCount:     1,
			ActualDuration:   300 * time.Millisecond,
			RecordedDuration: 300 * time.Millisecond,
		},
		Reason: recorder.ReasonCompleted,
	}
}

func TestExportWAV(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter(Config{Root: root, Format: FormatWAV})
	rec := testRecord(t)

	res, err := w.Export(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, rec.ID), res.Dir)
	assert.Equal(t, FormatWAV, res.Format)
	assert.Equal(t, filepath.Join(res.Dir, "audio.wav"), res.Audio)

	f, err := os.Open(res.Audio)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2400, len(buf.Data))
	assert.Equal(t, 8000, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)

	levels := readCSV(t, res.LevelsCSV)
	require.Len(t, levels, 4)
	assert.Equal(t, []string{"timestamp", "80", "160", "sum"}, levels[0])
	assert.Equal(t, "2025-03-01T12:00:00.000Z", levels[1][0])
	assert.Equal(t, "40.00", levels[1][1])
	assert.Equal(t, "37.00", levels[1][2])

	triggers := readCSV(t, res.TriggersCSV)
	require.Len(t, triggers, 2)
	assert.Equal(t, []string{"band_80", "2025-03-01T12:00:00.000Z", "40.00", "0.250", "false"}, triggers[1])

	data, err := os.ReadFile(res.Metadata)
	require.NoError(t, err)
	var meta Metadata
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, rec.ID, meta.ID)
	assert.Equal(t, "A", meta.Weighting)
	assert.Equal(t, []string{"80", "160"}, meta.Bands)
	assert.Equal(t, "audio.wav", meta.Files["audio"])
	assert.Equal(t, 1, meta.TriggerCount)
	assert.InDelta(t, 0.3, meta.Duration, 1e-9)

	entries, err := os.ReadDir(res.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), tempExt)
	}
}

func TestExportFLACFallsBackToWAV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ffmpeg string
	}{
		{name: "no ffmpeg configured", ffmpeg: ""},
		{name: "ffmpeg fails", ffmpeg: filepath.Join(t.TempDir(), "missing-ffmpeg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := NewWriter(Config{Root: t.TempDir(), Format: FormatFLAC, FfmpegPath: tt.ffmpeg})
			res, err := w.Export(context.Background(), testRecord(t))
			require.NoError(t, err)
			assert.Equal(t, FormatWAV, res.Format)
			assert.FileExists(t, res.Audio)
			assert.Equal(t, ".wav", filepath.Ext(res.Audio))
		})
	}
}

func TestExportNilRecord(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(Config{Root: t.TempDir(), Format: FormatWAV}).Export(context.Background(), nil)
	require.Error(t, err)
}

func TestToPCM16(t *testing.T) {
	t.Parallel()

	got := toPCM16([]float64{0, 1, -1, 2, -3, math.NaN(), 0.5})
	assert.Equal(t, []int{0, 32767, -32767, 32767, -32767, 0, 16384}, got)
}

func TestBuildFFmpegArgs(t *testing.T) {
	t.Parallel()

	args := buildFFmpegArgs("/tmp/out.flac.temp", 44100)
	assert.Contains(t, args, "s16le")
	assert.Contains(t, args, "44100")
	assert.Equal(t, "/tmp/out.flac.temp", args[len(args)-1])
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
