package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf so
// capture diagnostics (boundary disagreements, persist failures, export
// notices) share the process log. Tests can redirect or mute it via SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
