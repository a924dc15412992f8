// Package observe wires structured logging and error reporting.
package observe

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. format is "json" or "text".
func NewLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(parsed)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// Init configures the sentry client. An empty dsn leaves reporting
// disabled. The returned func flushes buffered events and should be
// deferred by main.
func Init(dsn, environment string) (func(), error) {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return func() {}, fmt.Errorf("init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Error logs err with its kind and fields and reports it to sentry.
func Error(log logrus.FieldLogger, kind string, err error, fields logrus.Fields) {
	entry := log.WithFields(logrus.Fields{
		"error_type": kind,
		"err":        err.Error(),
	})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Error("operation failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", kind)
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Event logs an informational event and leaves a sentry breadcrumb so it
// shows up next to any later error.
func Event(log logrus.FieldLogger, kind string, fields logrus.Fields) {
	log.WithFields(fields).WithField("event_type", kind).Info(kind)

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  kind,
		Data:      fields,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	})
}
