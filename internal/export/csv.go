package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/recorder"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/soundlevel"
)

// TimestampLayout is used for every timestamp written to CSV files.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// writeLevelsCSV writes one row per recorded block: the timestamp, one
// column per band in the event weighting and the energy sum.
func writeLevelsCSV(w io.Writer, rec *recorder.EventRecord) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(rec.Centers)+2)
	header = append(header, "timestamp")
	for _, c := range rec.Centers {
		header = append(header, soundlevel.FormatBandKey(c))
	}
	header = append(header, "sum")
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, r := range rec.Rows() {
		row = row[:0]
		row = append(row, r.Timestamp.UTC().Format(TimestampLayout))
		for i := range rec.Centers {
			v := 0.0
			if i < len(r.Values) {
				v = r.Values[i]
			}
			row = append(row, formatDB(v))
		}
		row = append(row, formatDB(r.Sum))
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// writeTriggersCSV writes the active periods of every trigger in the event.
func writeTriggersCSV(w io.Writer, rec *recorder.EventRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"trigger", "start", "start_level_db", "duration_s", "open"}); err != nil {
		return err
	}
	for _, t := range rec.Triggers {
		if err := cw.Write([]string{
			t.Label,
			t.Start.UTC().Format(TimestampLayout),
			formatDB(t.StartLevel),
			strconv.FormatFloat(t.Duration.Round(time.Millisecond).Seconds(), 'f', 3, 64),
			strconv.FormatBool(t.Open),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatDB(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// writeFile creates path through a temporary file and fills it with fn.
func writeFile(path string, fn func(io.Writer) error) error {
	tempPath := path + tempExt
	f, err := os.Create(tempPath)
	if err != nil {
		return errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return errors.New(err).
			Component("export").
			Category(errors.CategoryExport).
			FileContext(path, 0).
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
