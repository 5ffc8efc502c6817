package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// NewLogger creates a logger with the given level and format ("json" or "text").
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// NewLoggerWithService creates an entry that tags every line with the service name.
func NewLoggerWithService(serviceName, level, format string) *logrus.Entry {
	return NewLogger(level, format).WithField("service", serviceName)
}

// Discard returns an entry that writes nowhere; used by tests and tools.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return logrus.NewEntry(logger)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
