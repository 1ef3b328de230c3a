// Package logging builds the slog logger used by the CLI. Logs go to a
// fallback writer (usually stderr) or, when a file is configured, to a
// size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 5
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// Config selects the log level, format and destination.
type Config struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn or error.
	Format string `yaml:"format" env:"FORMAT"` // json or text.
	File   string `yaml:"file" env:"FILE"`     // Rotated log file; empty logs to the fallback writer.
}

// New returns a logger for cfg and a closer for its sink. If the log
// directory cannot be created the logger writes to fallback and the error is
// returned alongside it.
func New(cfg Config, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	path := strings.TrimSpace(cfg.File)
	if path == "" {
		return slog.New(newHandler(cfg.Format, fallback, opts)), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return slog.New(newHandler(cfg.Format, fallback, opts)), nopCloser{}, fmt.Errorf("logging: %w", err)
	}

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}

	return slog.New(newHandler(cfg.Format, w, opts)), w, nil
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
