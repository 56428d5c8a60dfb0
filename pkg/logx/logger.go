// Package logx provides structured logging for the floorsense daemon.
package logx

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger behind a key/value API.
type Logger struct {
	l *logrus.Logger
}

// New creates a structured JSON logger at the given level
// (debug|info|warn|error). Unknown levels fall back to info.
func New(level string) *Logger {
	return NewWithOutput(level, os.Stdout)
}

// NewWithOutput is New writing to an explicit sink; tests capture output
// through it.
func NewWithOutput(level string, out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	})
	l.SetLevel(parseLevel(level))
	return &Logger{l: l}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// fields converts alternating key/value arguments to logrus fields. A
// dangling key is kept with a nil value rather than dropped.
func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			f[key] = keysAndValues[i+1]
		} else {
			f[key] = nil
		}
	}
	return f
}

// Debug logs a debug message with optional key/value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.l.WithFields(fields(keysAndValues)).Debug(msg)
}

// Info logs an info message with optional key/value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.l.WithFields(fields(keysAndValues)).Info(msg)
}

// Warn logs a warning message with optional key/value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.l.WithFields(fields(keysAndValues)).Warn(msg)
}

// Error logs an error message with optional key/value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.l.WithFields(fields(keysAndValues)).Error(msg)
}
