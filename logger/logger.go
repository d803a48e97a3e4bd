// Package logger provides the leveled logging interface used throughout
// resclient-go, in the same minimal shape as resgate's own server/logger
// package: a small interface over Logf/Debugf/Tracef, with a stdlib-backed
// default implementation. No third-party logging library is used here
// because the teacher itself does not use one for this concern — see
// DESIGN.md.
package logger

import (
	"log"
	"os"
)

// Logger is the logging interface consumed by resclient-go.
type Logger interface {
	Logf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Tracef(format string, v ...interface{})
}

// NewStdLogger returns a Logger writing to os.Stderr. debug and trace
// control whether the corresponding levels are emitted.
func NewStdLogger(debug, trace bool) Logger {
	return &stdLogger{
		l:     log.New(os.Stderr, "", log.LstdFlags),
		debug: debug,
		trace: trace,
	}
}

type stdLogger struct {
	l     *log.Logger
	debug bool
	trace bool
}

func (s *stdLogger) Logf(format string, v ...interface{}) {
	s.l.Printf("[resclient] "+format, v...)
}

func (s *stdLogger) Debugf(format string, v ...interface{}) {
	if !s.debug {
		return
	}
	s.l.Printf("[resclient:debug] "+format, v...)
}

func (s *stdLogger) Tracef(format string, v ...interface{}) {
	if !s.trace {
		return
	}
	s.l.Printf("[resclient:trace] "+format, v...)
}

// NopLogger discards everything. Used as the zero-value default.
type NopLogger struct{}

func (NopLogger) Logf(string, ...interface{})   {}
func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Tracef(string, ...interface{}) {}
