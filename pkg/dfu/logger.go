package dfu

import (
	"log"
	"os"
)

// StdLogger implements Logger on top of the standard library's log.Logger,
// configured the same way this tool's command-line entry points configure
// their own top-level logger.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger returns a StdLogger writing to stderr with date, time, and
// microsecond precision, matching this repository's convention for every
// other logged component.
func NewStdLogger() *StdLogger {
	return &StdLogger{l: log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)}
}

func (s *StdLogger) Printf(format string, args ...interface{}) {
	s.l.Printf(format, args...)
}
