// Package definition holds the Logger interface shared across the fsy
// packages so that each of them can stay decoupled from a concrete logging
// implementation.
package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging contract used by every fsy component. Implementers
// may back it with any structured logger; the default implementation below
// uses logrus.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	// WithField returns a derived logger that tags every subsequent line
	// with the given key/value, e.g. node_id or group name.
	WithField(key string, value interface{}) Logger
}

// DefaultLogger wraps a logrus.Entry to satisfy Logger.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds the logger used when the caller does not provide
// its own implementation. Output goes to stderr as structured text.
func NewDefaultLogger() *DefaultLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: logrus.NewEntry(log)}
}

// ToggleDebug flips the logger's debug verbosity between Info and Debug.
func (l *DefaultLogger) ToggleDebug(on bool) {
	if on {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
}

func (l *DefaultLogger) WithField(key string, value interface{}) Logger {
	return &DefaultLogger{entry: l.entry.WithField(key, value)}
}

func (l *DefaultLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}
func (l *DefaultLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                 { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }
