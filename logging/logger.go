// Package logging provides the abstract logging interface the core
// consumes and a logrus-backed default implementation.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Logger is the abstract interface the core depends on. Concrete
// adapters live in this package; the core packages do not import
// logrus directly (only the cmd/netpktd bootstrap does).
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Error(err error)
}

// LogrusLogger wraps a *logrus.Logger configured with the same
// full-timestamp text formatter the daemon's package-level logger uses.
type LogrusLogger struct {
	l *log.Logger
}

// NewLogrusLogger builds a Logger writing formatted text with full
// timestamps to w (cmd/netpktd passes the logrus standard logger's
// output: its log file, or stderr when that cannot be opened).
func NewLogrusLogger(w io.Writer, level log.Level) *LogrusLogger {
	l := log.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return &LogrusLogger{l: l}
}

// NewDefaultLogger returns a LogrusLogger writing to stderr at Info
// level.
func NewDefaultLogger() *LogrusLogger {
	return NewLogrusLogger(os.Stderr, log.InfoLevel)
}

func (lg *LogrusLogger) Debugf(format string, args ...interface{}) { lg.l.Debugf(format, args...) }
func (lg *LogrusLogger) Infof(format string, args ...interface{})  { lg.l.Infof(format, args...) }
func (lg *LogrusLogger) Warnf(format string, args ...interface{})  { lg.l.Warnf(format, args...) }
func (lg *LogrusLogger) Errorf(format string, args ...interface{}) { lg.l.Errorf(format, args...) }
func (lg *LogrusLogger) Error(err error) {
	if err == nil {
		return
	}
	lg.l.Error(err)
}

// Nop is a Logger that discards everything, useful in tests that
// don't want to assert on log output.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
func (Nop) Error(error)                   {}
