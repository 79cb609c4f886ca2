package telemetry

import "errors"

// ErrSourceUnavailable is returned by Poll when the simulator is not running
// or not currently in an active session. It is a normal, non-fatal condition:
// the capture loop idles and retries.
var ErrSourceUnavailable = errors.New("telemetry source unavailable")

// Frame is the result of one poll: a sample snapshot plus the source's own
// session and lap counters. The counters are the authoritative boundary
// signal; the sample's distance_pct wrap is a diagnostic cross-check only.
type Frame struct {
	Sample Sample `json:"sample"`

	// SessionNum is the source's session number. A change marks a session
	// boundary.
	SessionNum int `json:"session_num"`

	// LapNum is the source's lap counter. An increase marks a lap boundary.
	LapNum int `json:"lap_num"`

	// LastLapTime is the source-reported time of the most recently completed
	// lap, in seconds. Zero or negative when the source has not reported one.
	LastLapTime float64 `json:"last_lap_time"`
}

// SessionInfo describes the source's current session. Read once per session
// boundary, not per tick.
type SessionInfo struct {
	SessionNum  int    `json:"session_num"`
	Track       string `json:"track"`
	TrackConfig string `json:"track_config,omitempty"`
	Car         string `json:"car,omitempty"`
	Driver      string `json:"driver,omitempty"`
	SessionType string `json:"session_type"`
}

// Source is the simulator-side collaborator: a read-only provider of frames
// over the sim's shared-memory interface. The core never mutates it and polls
// it from a single goroutine.
type Source interface {
	// Poll returns the latest frame, or ErrSourceUnavailable. Poll must not
	// block beyond a single shared-memory read.
	Poll() (Frame, error)

	// SessionInfo returns metadata for the source's current session, or
	// ErrSourceUnavailable.
	SessionInfo() (SessionInfo, error)

	// Close releases the source. Polling after Close reports
	// ErrSourceUnavailable.
	Close() error
}
