// Package logger owns the process-wide structured logger. Output is JSON on
// stdout so log shippers can ingest it without a parsing step.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	global *slog.Logger
	once   sync.Once
)

// Init configures the logger once; later calls are no-ops. Packages that log
// before Init runs get the info-level default.
func Init(level string) {
	once.Do(func() {
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
		global = slog.New(handler)
		slog.SetDefault(global)
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func base() *slog.Logger {
	if global == nil {
		Init("info")
	}
	return global
}

// With returns a child logger carrying the given attributes; workers use it
// to stamp every line with their tenant id.
func With(args ...any) *slog.Logger {
	return base().With(args...)
}

func Debug(msg string, args ...any) { base().Debug(msg, args...) }
func Info(msg string, args ...any)  { base().Info(msg, args...) }
func Warn(msg string, args ...any)  { base().Warn(msg, args...) }
func Error(msg string, args ...any) { base().Error(msg, args...) }
