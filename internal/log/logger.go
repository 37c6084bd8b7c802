package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"firestige.xyz/cmutcp/internal/config"
)

const (
	defaultPattern    = "%time [%level] %field %msg\n"
	defaultTimeFormat = "2006-01-02 15:04:05.000"
)

// Init replaces the process logger according to cfg. Stderr is always an
// output; stdout carries command results.
func Init(cfg config.LogConfig) error {
	l, err := New(cfg, os.Stderr)
	if err != nil {
		return err
	}
	setLogger(l)
	return nil
}

// New builds a logger writing to out plus any file output in cfg.
func New(cfg config.LogConfig, out io.Writer) (Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	f, err := newFormatter(cfg)
	if err != nil {
		return nil, err
	}

	w := NewMultiWriter().Add(out)
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("file output requires 'path' field")
		}
		w.AddFileAppender(cfg.File)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(f)
	l.SetOutput(w)

	return &logrusAdapter{entry: logrus.NewEntry(l)}, nil
}

func newFormatter(cfg config.LogConfig) (logrus.Formatter, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}

	switch strings.ToLower(cfg.Format) {
	case "", "pattern":
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = defaultPattern
		}
		return &formatter{pattern: pattern, time: timeFormat}, nil
	case "json":
		return &logrus.JSONFormatter{TimestampFormat: timeFormat}, nil
	case "prefixed":
		return &prefixed.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timeFormat,
			ForceFormatting: true,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be pattern, json or prefixed)", cfg.Format)
	}
}
