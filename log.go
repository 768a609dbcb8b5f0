//go:build linux

package uringloop

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the structured-logging contract threaded through Loop,
// Poller, and the UDP engines. A nil Logger field means silent,
// matching the nil-guard idiom used throughout the queue runner this
// package's loop core is modeled on.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// charmLogger adapts *charmbracelet/log.Logger to the Logger interface.
type charmLogger struct {
	l *charmlog.Logger
}

func (c *charmLogger) Debugf(format string, args ...any) { c.l.Debugf(format, args...) }
func (c *charmLogger) Infof(format string, args ...any)  { c.l.Infof(format, args...) }
func (c *charmLogger) Warnf(format string, args ...any)  { c.l.Warnf(format, args...) }
func (c *charmLogger) Errorf(format string, args ...any) { c.l.Errorf(format, args...) }

// defaultLogger builds the Logger NewLoop wires in unless overridden
// via WithLogger. Writes to stderr at info level, matching charmlog's
// own package-level default.
func defaultLogger() Logger {
	return &charmLogger{l: charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "uringloop",
	})}
}

// logDebugf is a nil-safe helper so call sites don't need to guard
// every log call with "if l.logger != nil".
func logDebugf(l Logger, format string, args ...any) {
	if l != nil {
		l.Debugf(format, args...)
	}
}

func logInfof(l Logger, format string, args ...any) {
	if l != nil {
		l.Infof(format, args...)
	}
}

func logWarnf(l Logger, format string, args ...any) {
	if l != nil {
		l.Warnf(format, args...)
	}
}

func logErrorf(l Logger, format string, args ...any) {
	if l != nil {
		l.Errorf(format, args...)
	}
}
