// Package logging wires the substrate's structured logging. The teacher
// split info/error/warn across three *log.Logger instances writing to
// separate files (core.go); we keep the three-way split as named zap fields
// instead, since panicking on a missing log file (as core.go's
// NewBaseCore did with log.Fatal) is exactly the failure mode §7 forbids.
package logging

import "go.uber.org/zap"

// New returns a development logger when debug is true, else a production
// logger. Callers that don't care about logs should use Nop().
func New(debug bool) *zap.Logger {
	var l *zap.Logger
	var err error
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Nop returns a logger that discards everything, used as the default when a
// component is constructed without an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l if non-nil, else a no-op logger. Every package in this
// module accepts a *zap.Logger and should route it through OrNop so callers
// never have to special-case a nil logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
