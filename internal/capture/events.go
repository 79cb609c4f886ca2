// Package capture turns the polled telemetry stream into finalized lap and
// session records. One polling loop produces events; one state machine
// consumes them strictly sequentially, so the active lap buffer is never
// touched concurrently.
package capture

import "github.com/banshee-data/laptrace/internal/telemetry"

// EventKind discriminates the events consumed by the state machine. Source
// exit, session change and an explicit stop request all flow through the same
// transition table instead of separate control paths.
type EventKind int

const (
	// EventTick carries one polled frame.
	EventTick EventKind = iota
	// EventSourceLost signals the source became unavailable mid-capture.
	EventSourceLost
	// EventStopRequested signals an explicit stop. Observed at the top of the
	// tick loop, never mid-tick.
	EventStopRequested
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventSourceLost:
		return "source-lost"
	case EventStopRequested:
		return "stop-requested"
	default:
		return "unknown"
	}
}

// Event is one unit of input to the state machine. Frame and Info are only
// meaningful for EventTick; Info may be zero when the machine already has an
// open session for the frame's session number.
type Event struct {
	Kind  EventKind
	Frame telemetry.Frame
	Info  telemetry.SessionInfo
}
