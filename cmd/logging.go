package cmd

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/alertingservice/config"
)

// NewLogger builds the process logger from the log section of the config.
// An unknown level falls back to info.
func NewLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "go-alerting-service").Logger()
}
