// Package session defines the lap and session records produced by capture
// and consumed by the store and exporter.
package session

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/laptrace/internal/telemetry"
)

// Lap is an ordered run of samples for one lap number. Complete is false when
// capture stopped before a boundary crossing was observed. LapTime is the
// source-reported lap time in seconds, zero when not reported.
type Lap struct {
	Number   int                `json:"number"`
	Complete bool               `json:"complete"`
	LapTime  float64            `json:"lap_time,omitempty"`
	Samples  []telemetry.Sample `json:"samples"`
}

// Session owns an ordered run of laps captured between two session
// boundaries. ID is the durable record id; SessionNum is the source's own
// session number, unique within one capture lifetime.
type Session struct {
	ID          string    `json:"session_id"`
	SessionNum  int       `json:"session_num"`
	Track       string    `json:"track"`
	TrackConfig string    `json:"track_config,omitempty"`
	Car         string    `json:"car,omitempty"`
	Driver      string    `json:"driver,omitempty"`
	SessionType string    `json:"session_type"`
	CreatedAt   time.Time `json:"created_at"`
	Laps        []Lap     `json:"laps"`
}

// SampleCount returns the total samples across all laps.
func (s *Session) SampleCount() int {
	n := 0
	for _, lap := range s.Laps {
		n += len(lap.Samples)
	}
	return n
}

// Lap returns the lap with the given number, or nil.
func (s *Session) Lap(number int) *Lap {
	for i := range s.Laps {
		if s.Laps[i].Number == number {
			return &s.Laps[i]
		}
	}
	return nil
}

// TimedLaps returns the laps that carry a source-reported lap time.
func (s *Session) TimedLaps() []Lap {
	var timed []Lap
	for _, lap := range s.Laps {
		if lap.LapTime > 0 {
			timed = append(timed, lap)
		}
	}
	return timed
}

// BestLap returns the lap number and time of the fastest timed lap. ok is
// false when no lap carries a time.
func (s *Session) BestLap() (number int, lapTime float64, ok bool) {
	timed := s.TimedLaps()
	if len(timed) == 0 {
		return 0, 0, false
	}
	times := make([]float64, len(timed))
	for i, lap := range timed {
		times[i] = lap.LapTime
	}
	best := floats.MinIdx(times)
	return timed[best].Number, times[best], true
}

// Duration returns the sum of reported lap times in seconds.
func (s *Session) Duration() float64 {
	var total float64
	for _, lap := range s.Laps {
		if lap.LapTime > 0 {
			total += lap.LapTime
		}
	}
	return total
}

// ValidateLap checks a finalized lap before it is accepted by the storage
// writer.
func ValidateLap(lap *Lap) error {
	if lap.Number < 1 {
		return fmt.Errorf("lap number must be >= 1, got %d", lap.Number)
	}
	if len(lap.Samples) == 0 {
		return fmt.Errorf("lap %d has no samples", lap.Number)
	}
	for i, sm := range lap.Samples {
		if sm.DistancePct < 0 || sm.DistancePct >= 1 {
			return fmt.Errorf("lap %d sample %d: distance_pct %v outside [0,1)", lap.Number, i, sm.DistancePct)
		}
		if sm.Throttle < 0 || sm.Throttle > 1 {
			return fmt.Errorf("lap %d sample %d: throttle %v outside [0,1]", lap.Number, i, sm.Throttle)
		}
		if sm.Brake < 0 || sm.Brake > 1 {
			return fmt.Errorf("lap %d sample %d: brake %v outside [0,1]", lap.Number, i, sm.Brake)
		}
	}
	return nil
}

// Validate checks the full session record before it is accepted by the
// storage writer. Lap numbers must be strictly increasing; gaps are tolerated
// because a gap only reflects missed capture, not corruption.
func Validate(s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("session has no id")
	}
	if s.Track == "" {
		return fmt.Errorf("session %s has no track", s.ID)
	}
	if s.SessionType == "" {
		return fmt.Errorf("session %s has no session type", s.ID)
	}
	prev := 0
	for i := range s.Laps {
		lap := &s.Laps[i]
		if lap.Number <= prev {
			return fmt.Errorf("session %s: lap numbers not strictly increasing (%d after %d)", s.ID, lap.Number, prev)
		}
		if err := ValidateLap(lap); err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
		prev = lap.Number
	}
	return nil
}
