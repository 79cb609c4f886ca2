package telemetry

import (
	"errors"
	"testing"
)

func TestSimSourcePlaysConfiguredLaps(t *testing.T) {
	cfg := SimConfig{
		SessionNum:    7,
		Track:         "Test Ring",
		SessionType:   "Race",
		Laps:          2,
		SamplesPerLap: 10,
		TrackLength:   1000,
		TickPeriod:    0.1,
	}
	src := NewSimSource(cfg)

	var frames []Frame
	for {
		f, err := src.Poll()
		if errors.Is(err, ErrSourceUnavailable) {
			break
		}
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		frames = append(frames, f)
	}

	if got, want := len(frames), cfg.Laps*cfg.SamplesPerLap; got != want {
		t.Fatalf("got %d frames, want %d", got, want)
	}
	if frames[0].LapNum != 1 {
		t.Errorf("first frame lap = %d, want 1", frames[0].LapNum)
	}
	if last := frames[len(frames)-1]; last.LapNum != 2 {
		t.Errorf("last frame lap = %d, want 2", last.LapNum)
	}
	for _, f := range frames {
		if f.SessionNum != 7 {
			t.Fatalf("frame session = %d, want 7", f.SessionNum)
		}
		if f.Sample.DistancePct < 0 || f.Sample.DistancePct >= 1 {
			t.Fatalf("distance_pct %v outside [0,1)", f.Sample.DistancePct)
		}
		if f.Sample.Throttle < 0 || f.Sample.Throttle > 1 {
			t.Fatalf("throttle %v outside [0,1]", f.Sample.Throttle)
		}
	}
}

func TestSimSourceDistancePctWrapsAtLapBoundary(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.SamplesPerLap = 20
	cfg.Laps = 2
	src := NewSimSource(cfg)

	var prev float64
	wraps := 0
	for i := 0; i < cfg.Laps*cfg.SamplesPerLap; i++ {
		f, err := src.Poll()
		if err != nil {
			t.Fatalf("Poll failed at %d: %v", i, err)
		}
		if i > 0 && f.Sample.DistancePct < prev {
			wraps++
		}
		prev = f.Sample.DistancePct
	}
	if wraps != 1 {
		t.Errorf("observed %d wraps, want 1", wraps)
	}
}

func TestSimSourceCloseReportsUnavailable(t *testing.T) {
	src := NewSimSource()
	if _, err := src.Poll(); err != nil {
		t.Fatalf("Poll before close failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := src.Poll(); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Poll after close = %v, want ErrSourceUnavailable", err)
	}
	if _, err := src.SessionInfo(); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("SessionInfo after close = %v, want ErrSourceUnavailable", err)
	}
}

func TestSampleChannelCoversAllNames(t *testing.T) {
	s := Sample{
		Lap: 2, Time: 1.5, Distance: 300, DistancePct: 0.25, Speed: 42,
		Throttle: 0.8, Brake: 0.1, Steering: -0.2, Gear: 4, RPM: 6200,
		LatAccel: 1.1, LongAccel: -0.4, YawRate: 0.05, SteeringWheelAngle: -0.2,
	}
	for _, name := range Channels {
		if name == "lap" {
			continue
		}
		if s.Channel(name) == 0 && name != "lap" {
			// every non-lap channel above is non-zero by construction
			t.Errorf("Channel(%q) = 0, want non-zero", name)
		}
	}
	if got := s.Channel("lap"); got != 2 {
		t.Errorf("Channel(lap) = %v, want 2", got)
	}
	if got := s.Channel("bogus"); got != 0 {
		t.Errorf("Channel(bogus) = %v, want 0", got)
	}
}
