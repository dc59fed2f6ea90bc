package obd

import "log"

// Logger is the logging collaborator. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

func defaultLogger() Logger { return log.Default() }
