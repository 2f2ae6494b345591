package config

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// NewLogger builds the logger described by the logging config, writing to w
func NewLogger(cfg LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO", "":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		return nil, errors.Newf("invalid log level %q", cfg.Level)
	}

	options := slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(options.NewJSONHandler(w)), nil
	case "text", "":
		return slog.New(options.NewTextHandler(w)), nil
	default:
		return nil, errors.Newf("invalid log format %q", cfg.Format)
	}
}
