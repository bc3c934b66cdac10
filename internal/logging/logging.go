package logging

import (
	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers do not import logrus directly.
type Fields = logrus.Fields

// New creates a configured logger. Level is one of debug/info/warn/error
// (unknown values fall back to info); format is "json" or "text".
func New(level, format string) *logrus.Logger {
	logger := logrus.New()

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// WithComponent returns an entry carrying a component field, so every
// line a service logs identifies where it came from.
func WithComponent(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
