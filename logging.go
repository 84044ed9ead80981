package pulsefield

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Logger is the logging surface every package takes. Named loggers share
// their parent's outputs and debug switch.
type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Named(component string) Logger
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type logSink struct {
	debug atomic.Bool
	out   *log.Logger
	err   *log.Logger
}

// DefaultLogger writes Debug/Info to one stream and Warn/Error to another,
// tagged "[prefix/component] LEVEL: ".
type DefaultLogger struct {
	sink *logSink
	tag  string
}

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return NewLoggerTo(prefix, debug, os.Stdout, os.Stderr)
}

func NewLoggerTo(prefix string, debug bool, out, errOut io.Writer) *DefaultLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	s := &logSink{
		out: log.New(out, "", flags),
		err: log.New(errOut, "", flags),
	}
	s.debug.Store(debug)
	return &DefaultLogger{sink: s, tag: tagFor(prefix)}
}

func tagFor(name string) string {
	if name == "" {
		return ""
	}
	return "[" + name + "] "
}

func (l *DefaultLogger) Named(component string) Logger {
	if component == "" {
		return l
	}
	name := component
	if n := len(l.tag); n > 0 {
		name = l.tag[1:n-2] + "/" + component
	}
	return &DefaultLogger{sink: l.sink, tag: tagFor(name)}
}

func (l *DefaultLogger) DebugEnabled() bool { return l.sink.debug.Load() }

func (l *DefaultLogger) SetDebug(enabled bool) { l.sink.debug.Store(enabled) }

func (l *DefaultLogger) emit(dst *log.Logger, level, format string, args []any) {
	dst.Print(l.tag + level + ": " + fmt.Sprintf(format, args...))
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.DebugEnabled() {
		l.emit(l.sink.out, "DEBUG", format, args)
	}
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	l.emit(l.sink.out, "INFO", format, args)
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.emit(l.sink.err, "WARN", format, args)
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.emit(l.sink.err, "ERROR", format, args)
}

type nopLogger struct{}

func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) DebugEnabled() bool    { return false }
func (nopLogger) SetDebug(bool)         {}
func (n nopLogger) Named(string) Logger { return n }
func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}
