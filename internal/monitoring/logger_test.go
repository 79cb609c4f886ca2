package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	Logf("lap %d finalized", 3)
	if got != "lap 3 finalized" {
		t.Errorf("Logf output = %q, want %q", got, "lap 3 finalized")
	}
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	SetLogger(nil)
	defer SetLogger(func(format string, v ...interface{}) {})

	// Must not panic.
	Logf("dropped %v", "message")
}
