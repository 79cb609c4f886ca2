package telemetry

import (
	"math"
	"sync"
)

// SimConfig describes one synthetic session produced by SimSource.
type SimConfig struct {
	SessionNum    int
	Track         string
	TrackConfig   string
	Car           string
	Driver        string
	SessionType   string
	Laps          int
	SamplesPerLap int
	TrackLength   float64 // meters
	TickPeriod    float64 // seconds of sim time between samples
}

// DefaultSimConfig returns a short practice session for dev mode.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		SessionNum:    1,
		Track:         "Okayama Short",
		TrackConfig:   "Short",
		Car:           "Mazda MX-5",
		Driver:        "Dev Driver",
		SessionType:   "Practice",
		Laps:          3,
		SamplesPerLap: 600,
		TrackLength:   1920,
		TickPeriod:    1.0 / 60.0,
	}
}

// SimSource is a deterministic synthetic Source used in dev mode and tests.
// It plays the configured sessions in order, one sample per Poll, and reports
// ErrSourceUnavailable once all sessions are exhausted or after Close.
type SimSource struct {
	mu       sync.Mutex
	sessions []SimConfig
	si       int // current session
	lap      int // 1-based lap within session
	idx      int // sample index within lap
	time     float64
	closed   bool
}

// NewSimSource creates a SimSource that plays the given sessions in order.
// With no arguments it plays DefaultSimConfig.
func NewSimSource(sessions ...SimConfig) *SimSource {
	if len(sessions) == 0 {
		sessions = []SimConfig{DefaultSimConfig()}
	}
	return &SimSource{sessions: sessions, lap: 1}
}

// Poll returns the next synthetic frame.
func (s *SimSource) Poll() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.si >= len(s.sessions) {
		return Frame{}, ErrSourceUnavailable
	}

	cfg := s.sessions[s.si]
	pct := float64(s.idx) / float64(cfg.SamplesPerLap)

	// Shape a plausible lap: two braking zones, speed between ~18 and ~55 m/s.
	phase := 2 * math.Pi * pct
	speed := 36 + 18*math.Sin(phase) + 6*math.Sin(3*phase)
	if speed < 12 {
		speed = 12
	}
	throttle := clamp01(0.55 + 0.45*math.Sin(phase))
	brake := clamp01(-0.8 * math.Sin(phase+math.Pi/3))
	steering := 0.4 * math.Sin(2*phase)
	gear := 2 + int(speed/12)
	if gear > 6 {
		gear = 6
	}

	frame := Frame{
		Sample: Sample{
			Lap:                s.lap,
			Time:               s.time,
			Distance:           pct * cfg.TrackLength,
			DistancePct:        pct,
			Speed:              speed,
			Throttle:           throttle,
			Brake:              brake,
			Steering:           steering,
			Gear:               gear,
			RPM:                1800 + speed*110,
			LatAccel:           1.6 * math.Sin(2*phase),
			LongAccel:          0.9 * math.Cos(phase),
			YawRate:            0.3 * math.Sin(2*phase),
			SteeringWheelAngle: steering,
		},
		SessionNum: cfg.SessionNum,
		LapNum:     s.lap,
	}
	if s.lap > 1 {
		frame.LastLapTime = float64(cfg.SamplesPerLap) * cfg.TickPeriod
	}

	s.advance(cfg)
	return frame, nil
}

func (s *SimSource) advance(cfg SimConfig) {
	s.time += cfg.TickPeriod
	s.idx++
	if s.idx < cfg.SamplesPerLap {
		return
	}
	s.idx = 0
	s.lap++
	if s.lap > cfg.Laps {
		s.lap = 1
		s.si++
	}
}

// SessionInfo returns metadata for the session currently being played.
func (s *SimSource) SessionInfo() (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.si >= len(s.sessions) {
		return SessionInfo{}, ErrSourceUnavailable
	}
	cfg := s.sessions[s.si]
	return SessionInfo{
		SessionNum:  cfg.SessionNum,
		Track:       cfg.Track,
		TrackConfig: cfg.TrackConfig,
		Car:         cfg.Car,
		Driver:      cfg.Driver,
		SessionType: cfg.SessionType,
	}, nil
}

// Close marks the source unavailable.
func (s *SimSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
