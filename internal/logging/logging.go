// Package logging configures the process-wide structured logger: JSON
// output via log/slog, rotated by lumberjack so a long-lived `serve`
// process doesn't grow an unbounded log file.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the logger writes.
type Options struct {
	// Path is the log file path. Empty means stderr only (no rotation).
	Path string
	// Level is one of "debug", "info", "warn", "error"; defaults to "info".
	Level string
	// AlsoStderr tees output to stderr in addition to Path.
	AlsoStderr bool
}

// New builds a JSON slog.Logger per Options.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		if opts.AlsoStderr {
			w = io.MultiWriter(rotated, os.Stderr)
		} else {
			w = rotated
		}
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
