package telemetry

import "sync"

// ReplaySource plays a fixed run of frames back through the Source interface,
// one frame per Poll, and reports ErrSourceUnavailable once the run is
// exhausted. It is used to re-run capture over previously recorded data.
type ReplaySource struct {
	mu     sync.Mutex
	info   SessionInfo
	frames []Frame
	idx    int
	closed bool
}

// NewReplaySource creates a source that plays the given frames in order under
// the given session metadata.
func NewReplaySource(info SessionInfo, frames []Frame) *ReplaySource {
	return &ReplaySource{info: info, frames: frames}
}

// Remaining reports how many frames have not yet been polled.
func (s *ReplaySource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) - s.idx
}

// Poll returns the next recorded frame.
func (s *ReplaySource) Poll() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.idx >= len(s.frames) {
		return Frame{}, ErrSourceUnavailable
	}
	frame := s.frames[s.idx]
	s.idx++
	return frame, nil
}

// SessionInfo returns the recorded session metadata.
func (s *ReplaySource) SessionInfo() (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.idx >= len(s.frames) {
		return SessionInfo{}, ErrSourceUnavailable
	}
	return s.info, nil
}

// Close marks the source exhausted.
func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
