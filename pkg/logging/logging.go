// Package logging wires the server core to logrus, the way the rest of the
// request-handling stack stays decoupled from any one log backend: callers
// see only the small Logger interface below.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal logging surface the server core depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger that writes to out (a log file, or os.Stderr when the
// config's log_file_name could not be opened) at the given level.
func New(out io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Open opens path for appending (creating it if needed) and returns a Logger
// writing to it. On failure it falls back to stderr, matching lisod's
// original behavior of never letting a bad log path crash startup.
func Open(path string, level logrus.Level) (Logger, func() error) {
	if path == "" {
		return New(os.Stderr, level), func() error { return nil }
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return New(os.Stderr, level), func() error { return nil }
	}
	return New(f, level), f.Close
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

// Nop returns a Logger that discards everything, useful in unit tests that
// don't want to assert on log output.
func Nop() Logger {
	return New(io.Discard, logrus.PanicLevel)
}
