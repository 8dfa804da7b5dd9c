package logger_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var records []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level logger.LogLevel
		want  int
	}{
		{"trace logs everything", logger.LogLevelTrace, 5},
		{"debug", logger.LogLevelDebug, 4},
		{"info", logger.LogLevelInfo, 3},
		{"warn", logger.LogLevelWarn, 2},
		{"error", logger.LogLevelError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := &bytes.Buffer{}
			log := logger.NewSlogLogger(buf, tt.level, time.UTC)

			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")

			assert.Len(t, decodeLines(t, buf), tt.want)
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC).
		Module("analysis").
		Module("recorder").
		With(logger.String("event_id", "2025-01-01T00-00-00Z"))

	log.Info("event finalized",
		logger.Float64("peak_db", 70.12345),
		logger.Duration("recorded", 12*time.Second),
		logger.Error(errors.New("disk full")))

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, "event finalized", rec["msg"])
	assert.Equal(t, "analysis.recorder", rec["module"])
	assert.Equal(t, "2025-01-01T00-00-00Z", rec["event_id"])
	assert.InDelta(t, 70.123, rec["peak_db"], 1e-9)
	assert.Equal(t, "12s", rec["recorded"])
	assert.Equal(t, "disk full", rec["error"])
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	parent := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)
	_ = parent.With(logger.String("child", "yes"))

	parent.Info("parent message")

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	assert.NotContains(t, records[0], "child")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(context.Background(), "abc-123")
	log.WithContext(ctx).Info("with trace")
	log.WithContext(context.Background()).Info("without trace")

	records := decodeLines(t, buf)
	require.Len(t, records, 2)
	assert.Equal(t, "abc-123", records[0]["trace_id"])
	assert.NotContains(t, records[1], "trace_id")
}

func TestExplicitLogLevelRespectsThreshold(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelWarn, time.UTC)

	log.Log(logger.LogLevelInfo, "dropped")
	log.Log(logger.LogLevelError, "kept")

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0]["msg"])
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "analyzer.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"mqtt": "error"},
	})
	require.NoError(t, err)

	cl.Module("analysis").Debug("block processed", logger.Int("band_count", 29))
	cl.Module("mqtt").Info("suppressed by module level")
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	records := decodeLines(t, bytes.NewBuffer(data))
	require.Len(t, records, 1)
	assert.Equal(t, "analysis", records[0]["module"])
	assert.InDelta(t, 29, records[0]["band_count"], 0)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}
