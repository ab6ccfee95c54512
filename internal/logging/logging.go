// Package logging builds the slog loggers shared by the scheduler, the
// launcher and the status surfaces, and fixes the attribute keys they tag
// their lines with.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Attribute keys carried by scheduler and launcher lines.
const (
	KeyComponent  = "component"
	KeyExperiment = "experiment"
	KeyJobID      = "job_id"
)

// NewLogger writes to stderr. Stdout belongs to command output such as the
// status table.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return New(os.Stderr, level, format)
}

// New returns a logger writing to w in the given format ("text" or "json").
// Unknown formats fall back to text.
func New(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel accepts the slog level names in any case, "warning", and
// offsets such as "info+2". Anything else is info.
func ParseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Component tags logger with the subsystem name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(KeyComponent, name)
}

// ForExperiment tags logger with the subsystem and the experiment it serves.
func ForExperiment(logger *slog.Logger, component, experiment string) *slog.Logger {
	return logger.With(KeyComponent, component, KeyExperiment, experiment)
}

// ForJob narrows an experiment logger to one job.
func ForJob(logger *slog.Logger, jobID int) *slog.Logger {
	return logger.With(KeyJobID, jobID)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
