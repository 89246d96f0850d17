// Package logger builds the daemon's default structured logger, adapted
// from the teacher's global slog initializer: the same multi-writer
// (stdout plus an optional log file) and shortened time format, generalized
// from a package-level Log/Debug/Info/Warn/Error surface to returning a
// *slog.Logger that every other package already accepts as a constructor
// argument instead of reaching for a global.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a slog.Logger writing to stdout and, if logFile is non-empty,
// also appending to logFile. level is one of debug/info/warn/error,
// case-insensitively; an unrecognized value falls back to info.
func New(level, logFile string) (*slog.Logger, error) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})
	return slog.New(handler), nil
}
