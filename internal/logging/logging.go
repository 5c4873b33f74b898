// Package logging builds the service logger: JSON lines into a rotating
// file, optionally mirrored to a human-readable console.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kartoza/renewal-predictor/internal/config"
)

// ParseLevel maps a configured level name to a zerolog level
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "", "INFO":
		return zerolog.InfoLevel, nil
	case "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "FATAL":
		return zerolog.FatalLevel, nil
	case "DISABLED":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("incorrect log level %q", name)
	}
}

// New creates the service logger. The returned closer releases the log
// file.
func New(cfg config.LogConfig, version string) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	var out io.Writer = file
	if cfg.Console {
		out = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "02-01-2006 15:04:05.000",
		})
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("app", "renewal-predictor").
		Str("version", version).
		Logger()

	return logger, file, nil
}
