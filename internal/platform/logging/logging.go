// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log level, output format and optional file sink.
type Config struct {
	Level      string
	Console    bool // human-readable output instead of JSON
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a timestamped zerolog logger writing to stdout and, when
// cfg.File is set, to a size-rotated file. The returned closer flushes and
// closes the file; it is a no-op without one.
func New(cfg Config) (zerolog.Logger, io.Closer) {
	return build(cfg, os.Stdout)
}

func build(cfg Config, stdout io.Writer) (zerolog.Logger, io.Closer) {
	var console io.Writer = stdout
	if cfg.Console {
		console = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.Kitchen}
	}

	var closer io.Closer = nopCloser{}
	out := console
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		closer = file
		// The file always gets JSON so it can be shipped as-is.
		out = zerolog.MultiLevelWriter(console, file)
	}

	return zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger(), closer
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
