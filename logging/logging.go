// Package logging configures logrus loggers and provides the default
// request-log sink used by the orchestrator.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Format selects the log line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name such as "debug" or "warn". Defaults to info.
	Level string
	// Format defaults to FormatText.
	Format Format
	// Output defaults to stderr.
	Output io.Writer
}

// New builds a logger from opts.
func New(opts Options) (*logrus.Logger, error) {
	l := logrus.New()
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	}

	level := logrus.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := logrus.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		level = parsed
	}
	l.SetLevel(level)

	switch Format(strings.ToLower(string(opts.Format))) {
	case "", FormatText:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	case FormatJSON:
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return l, nil
}
