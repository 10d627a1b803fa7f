package logger

import (
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// gocronLogger routes gocron's internal messages into slog. gocron reports
// every job run at info level, so info is demoted to debug.
type gocronLogger struct {
	log *slog.Logger
}

// Gocron adapts log to gocron.Logger.
//
//nolint:ireturn // gocron.WithLogger takes the interface
func Gocron(log *slog.Logger) gocron.Logger {
	return &gocronLogger{log: log.With("source", "gocron")}
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l *gocronLogger) Info(msg string, args ...any)  { l.log.Debug(msg, args...) }
func (l *gocronLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l *gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }
