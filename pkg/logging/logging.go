// Package logging configures the process-wide logrus logger and hands out
// component-scoped entries. Executors additionally write per-task log files
// through NewFileLogger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup applies the global log level and format. Recognized formats are
// "text" and "json"; level accepts any logrus level name.
func Setup(level, format string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// NewLogger returns an entry scoped to a component name.
func NewLogger(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

// NewFileLogger creates a logger that writes to the given file, creating
// parent directories as needed. The returned closer flushes the file.
func NewFileLogger(path, component string) (*logrus.Entry, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(f)
	logger.SetLevel(logrus.GetLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	return logger.WithField("component", component), f, nil
}
