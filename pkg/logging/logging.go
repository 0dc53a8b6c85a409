package logging

import (
	"io"

	"github.com/go-logr/logr"
)

const (
	LEVEL_INFO  = 0
	LEVEL_DEBUG = 1
	LEVEL_TRACE = 2
)

// Key attached to records emitted through Warn. SimpleLogSink renders them with a warning label.
const warningKey = "warning"

// NewLogger creates a new Logger instance with the given configuration
func NewLogger(log logr.Logger) *Logger {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Logger{log: log}
}

// DefaultLogger returns a logger that discards everything.
func DefaultLogger() *Logger {
	return &Logger{log: logr.Discard()}
}

// NewConsoleLogger builds a colored console logger for the command line tools. verbosity maps
// the number of -v flags onto LEVEL_INFO, LEVEL_DEBUG and LEVEL_TRACE.
func NewConsoleLogger(w io.Writer, verbosity int, useColor bool) *Logger {
	if verbosity > LEVEL_TRACE {
		verbosity = LEVEL_TRACE
	}
	return NewLogger(NewSimpleLogger(w, verbosity, useColor))
}

// Logger is a struct that wraps the logr.Logger interface.
type Logger struct {
	log logr.Logger
}

// Named returns a logger whose records carry the given component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{log: l.log.WithName(name)}
}

// Logr exposes the wrapped logr.Logger.
func (l *Logger) Logr() logr.Logger {
	return l.log
}

// Log methods (minimizing footprint in the rest of the library)
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.V(LEVEL_DEBUG).Info(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, append([]interface{}{warningKey, true}, keysAndValues...)...)
}

func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.log.V(LEVEL_TRACE).Info(msg, keysAndValues...)
}

func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(err, msg, keysAndValues...)
}
