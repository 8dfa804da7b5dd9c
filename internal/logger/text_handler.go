package logger

import (
	"io"
	"log/slog"
	"time"
)

// newTextHandler returns a human-readable handler for console output.
// Timestamps are dropped; the level is padded so messages line up.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				lvl, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				return slog.String(slog.LevelKey, levelLabel(lvl))
			}
			if t, ok := a.Value.Any().(time.Time); ok && tz != nil {
				return slog.String(a.Key, t.In(tz).Format(time.RFC3339))
			}
			return a
		},
	})
}

// levelLabel renders a level with a fixed width, mapping the custom trace level
func levelLabel(lvl slog.Level) string {
	switch {
	case lvl <= traceLevelValue:
		return "TRACE"
	case lvl < slog.LevelInfo:
		return "DEBUG"
	case lvl < slog.LevelWarn:
		return "INFO "
	case lvl < slog.LevelError:
		return "WARN "
	default:
		return "ERROR"
	}
}
