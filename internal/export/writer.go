// Package export writes finalized events to disk: the recorded audio, the
// per-block level table, the trigger log and a JSON summary.
package export

import (
	"context"
	"encoding/json"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/recorder"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
)

// Audio formats.
const (
	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

// File names inside an event directory.
const (
	LevelsFile   = "levels.csv"
	TriggersFile = "triggers.csv"
	MetadataFile = "event.json"
)

// Config contains the export settings.
type Config struct {
	Root       string // directory holding one sub directory per event
	Format     string // flac or wav
	FfmpegPath string // resolved ffmpeg binary, empty falls back to WAV
}

// Result lists the files written for one event.
type Result struct {
	ID          string `json:"id"`
	Dir         string `json:"dir"`
	Audio       string `json:"audio"`
	LevelsCSV   string `json:"levels_csv"`
	TriggersCSV string `json:"triggers_csv"`
	Metadata    string `json:"metadata"`
	Format      string `json:"format"`
}

// Trigger is one trigger period in the JSON summary.
type Trigger struct {
	Label      string    `json:"trigger"`
	Start      time.Time `json:"start"`
	StartLevel float64   `json:"start_level_db"`
	Duration   float64   `json:"duration_s"`
	Open       bool      `json:"open"`
}

// Metadata is the content of event.json.
type Metadata struct {
	ID           string             `json:"id"`
	TriggeredAt  time.Time          `json:"triggered_at"`
	Start        time.Time          `json:"start"`
	Stop         time.Time          `json:"stop"`
	Duration     float64            `json:"duration_s"`
	Recorded     float64            `json:"recorded_s"`
	PeakDB       float64            `json:"peak_db"`
	AvgDB        float64            `json:"avg_db"`
	BandPeaks    map[string]float64 `json:"band_peaks_db"`
	TriggerCount int                `json:"trigger_count"`
	Truncated    bool               `json:"truncated"`
	Reason       string             `json:"reason"`
	Weighting    string             `json:"weighting"`
	SampleRate   int                `json:"sample_rate"`
	Bands        []string           `json:"bands"`
	Triggers     []Trigger          `json:"triggers"`
	Files        map[string]string  `json:"files"`
}

// NewMetadata summarizes rec. File names are relative to the event directory.
func NewMetadata(rec *recorder.EventRecord, audioFile string) Metadata {
	m := Metadata{
		ID:           rec.ID,
		TriggeredAt:  rec.TriggeredAt.UTC(),
		Start:        rec.Start.UTC(),
		Stop:         rec.End.UTC(),
		Duration:     rec.Stats.ActualDuration.Seconds(),
		Recorded:     rec.Stats.RecordedDuration.Seconds(),
		PeakDB:       rec.Stats.PeakDB,
		AvgDB:        rec.Stats.AvgDB,
		BandPeaks:    maps.Clone(rec.Stats.BandPeaks),
		TriggerCount: rec.Stats.TriggerCount,
		Truncated:    rec.Stats.Truncated,
		Reason:       rec.Reason,
		Weighting:    rec.Weighting.String(),
		SampleRate:   rec.SampleRate,
		Bands:        make([]string, len(rec.Centers)),
		Triggers:     make([]Trigger, len(rec.Triggers)),
		Files: map[string]string{
			"audio":    audioFile,
			"levels":   LevelsFile,
			"triggers": TriggersFile,
		},
	}
	for i, c := range rec.Centers {
		m.Bands[i] = soundlevel.FormatBandKey(c)
	}
	for i, t := range rec.Triggers {
		m.Triggers[i] = Trigger{
			Label:      t.Label,
			Start:      t.Start.UTC(),
			StartLevel: t.StartLevel,
			Duration:   t.Duration.Seconds(),
			Open:       t.Open,
		}
	}
	return m
}

// Writer exports event records. It is safe for concurrent use.
type Writer struct {
	config Config
	log    logger.Logger
}

// NewWriter creates a writer. FLAC without an ffmpeg binary degrades to WAV
// with a warning.
func NewWriter(config Config) *Writer {
	config.Format = strings.ToLower(strings.TrimSpace(config.Format))
	if config.Format == "" {
		config.Format = FormatFLAC
	}
	w := &Writer{config: config, log: GetLogger()}
	if config.Format == FormatFLAC && config.FfmpegPath == "" {
		w.log.Warn("ffmpeg not available, events are written as WAV")
		w.config.Format = FormatWAV
	}
	return w
}

// Format returns the effective audio format.
func (w *Writer) Format() string { return w.config.Format }

// Export writes rec to <root>/<id>/. A failed FLAC encode falls back to WAV
// so the audio is never lost.
func (w *Writer) Export(ctx context.Context, rec *recorder.EventRecord) (*Result, error) {
	if rec == nil {
		return nil, errors.Newf("nil event record").
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}

	dir := filepath.Join(w.config.Root, rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			FileContext(dir, 0).
			Context("operation", "create_event_dir").
			Build()
	}

	log := w.log.With(logger.String("event_id", rec.ID))
	started := time.Now()

	res := &Result{
		ID:          rec.ID,
		Dir:         dir,
		LevelsCSV:   filepath.Join(dir, LevelsFile),
		TriggersCSV: filepath.Join(dir, TriggersFile),
		Metadata:    filepath.Join(dir, MetadataFile),
		Format:      w.config.Format,
	}

	samples := rec.Samples()
	if w.config.Format == FormatFLAC {
		res.Audio = filepath.Join(dir, "audio.flac")
		if err := encodeFLAC(ctx, w.config.FfmpegPath, res.Audio, samples, rec.SampleRate); err != nil {
			log.Warn("FLAC encoding failed, writing WAV instead", logger.Error(err))
			res.Format = FormatWAV
		}
	}
	if res.Format == FormatWAV {
		res.Audio = filepath.Join(dir, "audio.wav")
		if err := writeWAV(res.Audio, samples, rec.SampleRate); err != nil {
			return nil, err
		}
	}

	if err := writeFile(res.LevelsCSV, func(f io.Writer) error { return writeLevelsCSV(f, rec) }); err != nil {
		return nil, err
	}
	if err := writeFile(res.TriggersCSV, func(f io.Writer) error { return writeTriggersCSV(f, rec) }); err != nil {
		return nil, err
	}

	meta := NewMetadata(rec, filepath.Base(res.Audio))
	if err := writeFile(res.Metadata, func(f io.Writer) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return nil, err
	}

	log.Info("event exported",
		logger.String("dir", dir),
		logger.String("format", res.Format),
		logger.Int("samples", len(samples)),
		logger.Duration("elapsed", time.Since(started)))
	return res, nil
}
