// Package monitoring holds the process-wide diagnostic loggers.
package monitoring

import (
	"log"
	"sync/atomic"
	"time"

	"tailscale.com/types/logger"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables or disables Debugf output.
func SetVerbose(v bool) { verbose.Store(v) }

// Verbose reports whether Debugf output is enabled.
func Verbose() bool { return verbose.Load() }

// Debugf logs through Logf only when verbose output is enabled. Per-frame
// and per-command tracing goes here.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}

// RateLimited wraps Logf so that each distinct format string is logged at
// most burst times per period. The reader loop uses it for frame errors,
// which can otherwise arrive every stream period.
func RateLimited(period time.Duration, burst int) func(format string, v ...interface{}) {
	return logger.RateLimitedFn(func(format string, args ...any) {
		Logf(format, args...)
	}, period, burst, 32)
}
