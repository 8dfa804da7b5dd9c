package analysis

import (
	"slices"
	"time"
)

// EventSummary is the flat JSON view of a finalized event, published over
// MQTT and listed by the web API.
type EventSummary struct {
	ID           string             `json:"id"`
	Start        time.Time          `json:"start"`
	Stop         time.Time          `json:"stop"`
	TriggeredAt  time.Time          `json:"triggered_at"`
	Reason       string             `json:"reason"`
	Duration     float64            `json:"duration_s"`
	Recorded     float64            `json:"recorded_s"`
	PeakDB       float64            `json:"peak_db"`
	AvgDB        float64            `json:"avg_db"`
	BandPeaks    map[string]float64 `json:"band_peaks_db"`
	TriggerCount int                `json:"trigger_count"`
	Triggers     []string           `json:"triggers"`
	Weighting    string             `json:"weighting"`
	Truncated    bool               `json:"truncated"`
	Dir          string             `json:"dir,omitempty"`
	Audio        string             `json:"audio,omitempty"`
	LevelsCSV    string             `json:"levels_csv,omitempty"`
	TriggersCSV  string             `json:"triggers_csv,omitempty"`
	Metadata     string             `json:"metadata,omitempty"`
}

// NewEventSummary flattens a finalized event and the files written for it.
// Trigger labels are listed once each in order of first occurrence.
func NewEventSummary(e *Event) *EventSummary {
	rec := e.Record
	s := &EventSummary{
		ID:           rec.ID,
		Start:        rec.Start.UTC(),
		Stop:         rec.End.UTC(),
		TriggeredAt:  rec.TriggeredAt.UTC(),
		Reason:       rec.Reason,
		Duration:     rec.Stats.ActualDuration.Seconds(),
		Recorded:     rec.Stats.RecordedDuration.Seconds(),
		PeakDB:       round2(rec.Stats.PeakDB),
		AvgDB:        round2(rec.Stats.AvgDB),
		BandPeaks:    make(map[string]float64, len(rec.Stats.BandPeaks)),
		TriggerCount: rec.Stats.TriggerCount,
		Triggers:     []string{},
		Weighting:    rec.Weighting.String(),
		Truncated:    rec.Stats.Truncated,
	}
	for k, v := range rec.Stats.BandPeaks {
		s.BandPeaks[k] = round2(v)
	}
	for i := range rec.Triggers {
		if !slices.Contains(s.Triggers, rec.Triggers[i].Label) {
			s.Triggers = append(s.Triggers, rec.Triggers[i].Label)
		}
	}
	if f := e.Files; f != nil {
		s.Dir = f.Dir
		s.Audio = f.Audio
		s.LevelsCSV = f.LevelsCSV
		s.TriggersCSV = f.TriggersCSV
		s.Metadata = f.Metadata
	}
	return s
}
