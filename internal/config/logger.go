package config

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger builds the process logger from a level name and a format
// ("text", "json" or "logfmt").
func NewLogger(w io.Writer, level, format, prefix string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := log.Options{
		Level:           lvl,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	}
	switch format {
	case "", "text":
		opts.Formatter = log.TextFormatter
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("log format %q: want text, json or logfmt", format)
	}
	return log.NewWithOptions(w, opts), nil
}

func (c *Config) Logger(w io.Writer) (*log.Logger, error) {
	return NewLogger(w, c.LogLevel, c.LogFormat, "knitserver")
}
