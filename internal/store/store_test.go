package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/laptrace/internal/session"
	"github.com/banshee-data/laptrace/internal/telemetry"
)

func testSample(lap, i int) telemetry.Sample {
	return telemetry.Sample{
		Lap:         lap,
		Time:        float64(lap*100 + i),
		Distance:    float64(i) * 36.2,
		DistancePct: float64(i) / 100,
		Speed:       42.5,
		Throttle:    0.8,
		Brake:       0.1,
		Steering:    -0.05,
		Gear:        4,
		RPM:         6200,
		LatAccel:    1.2,
		LongAccel:   -0.3,
		YawRate:     0.01,
	}
}

func testLap(number, samples int, complete bool, lapTime float64) session.Lap {
	lap := session.Lap{
		Number:   number,
		Complete: complete,
		LapTime:  lapTime,
	}
	for i := 0; i < samples; i++ {
		lap.Samples = append(lap.Samples, testSample(number, i))
	}
	return lap
}

func testSession(id, track, sessionType string) *session.Session {
	return &session.Session{
		ID:          id,
		SessionNum:  1,
		Track:       track,
		TrackConfig: "Grand Prix",
		Car:         "MX-5",
		Driver:      "Test Driver",
		SessionType: sessionType,
		CreatedAt:   time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Laps: []session.Lap{
			testLap(1, 20, true, 93.215),
			testLap(2, 18, false, 0),
		},
	}
}

func TestPersistAndLoadSession(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	want := testSession("11111111-aaaa-bbbb-cccc-dddddddddddd", "Laguna Seca", "Race")
	if err := st.PersistSession(want); err != nil {
		t.Fatalf("PersistSession failed: %v", err)
	}

	got, err := st.LoadSession(want.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded session mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionLayoutOnDisk(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	defer st.Close()

	s := testSession("22222222-aaaa-bbbb-cccc-dddddddddddd", "Laguna Seca", "Open Practice")
	if err := st.PersistSession(s); err != nil {
		t.Fatalf("PersistSession failed: %v", err)
	}

	dbPath := filepath.Join(dir, "Laguna_Seca", "Open_Practice", "sessions.db")
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected partition database at %s: %v", dbPath, err)
	}
}

func TestPersistLapThenSessionOverwrites(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	final := testSession("33333333-aaaa-bbbb-cccc-dddddddddddd", "Road Atlanta", "Race")
	meta := *final
	meta.Laps = nil

	// Incremental writes during capture: lap 1 lands first, without a time.
	partial := testLap(1, 20, true, 0)
	if err := st.PersistLap(meta, partial); err != nil {
		t.Fatalf("PersistLap failed: %v", err)
	}

	// The finalized record carries the lap time and replaces the partial row.
	if err := st.PersistSession(final); err != nil {
		t.Fatalf("PersistSession failed: %v", err)
	}

	got, err := st.LoadSession(final.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if diff := cmp.Diff(final, got); diff != "" {
		t.Errorf("loaded session mismatch (-want +got):\n%s", diff)
	}
}

func TestPersistSessionIdempotent(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	s := testSession("44444444-aaaa-bbbb-cccc-dddddddddddd", "Okayama", "Qualify")
	for i := 0; i < 2; i++ {
		if err := st.PersistSession(s); err != nil {
			t.Fatalf("PersistSession attempt %d failed: %v", i+1, err)
		}
	}

	summaries, err := st.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 stored session, got %d", len(summaries))
	}
	if summaries[0].SampleCount != s.SampleCount() {
		t.Errorf("expected sample count %d, got %d", s.SampleCount(), summaries[0].SampleCount)
	}
}

func TestPersistLapIdempotent(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	meta := *testSession("dddd1111-aaaa-bbbb-cccc-dddddddddddd", "Okayama", "Qualify")
	meta.Laps = nil
	lap := testLap(1, 20, true, 93.215)

	for i := 0; i < 2; i++ {
		if err := st.PersistLap(meta, lap); err != nil {
			t.Fatalf("PersistLap attempt %d failed: %v", i+1, err)
		}
	}

	got, err := st.LoadSession(meta.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	want := meta
	want.Laps = []session.Lap{lap}
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("session after re-persisting lap mismatch (-want +got):\n%s", diff)
	}

	summaries, err := st.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 stored session, got %d", len(summaries))
	}
	if summaries[0].SampleCount != len(lap.Samples) {
		t.Errorf("expected sample count %d, got %d", len(lap.Samples), summaries[0].SampleCount)
	}
}

func TestLoadSessionByPrefix(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	a := testSession("55555555-aaaa-bbbb-cccc-dddddddddddd", "Tsukuba", "Race")
	b := testSession("55556666-aaaa-bbbb-cccc-dddddddddddd", "Tsukuba", "Race")
	b.CreatedAt = b.CreatedAt.Add(time.Hour)
	for _, s := range []*session.Session{a, b} {
		if err := st.PersistSession(s); err != nil {
			t.Fatalf("PersistSession failed: %v", err)
		}
	}

	got, err := st.LoadSession("55555555")
	if err != nil {
		t.Fatalf("LoadSession by prefix failed: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("expected session %s, got %s", a.ID, got.ID)
	}

	if _, err := st.LoadSession("5555"); err == nil {
		t.Error("expected error for ambiguous prefix, got nil")
	}
}

func TestLoadSessionNotFound(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	s := testSession("66666666-aaaa-bbbb-cccc-dddddddddddd", "Sebring", "Race")
	if err := st.PersistSession(s); err != nil {
		t.Fatalf("PersistSession failed: %v", err)
	}

	_, err := st.LoadSession("ffffffff")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListSessionsAcrossPartitions(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	first := testSession("77777777-aaaa-bbbb-cccc-dddddddddddd", "Suzuka", "Race")
	second := testSession("88888888-aaaa-bbbb-cccc-dddddddddddd", "Suzuka", "Test Drive")
	second.CreatedAt = first.CreatedAt.Add(2 * time.Hour)
	third := testSession("99999999-aaaa-bbbb-cccc-dddddddddddd", "Fuji", "Race")
	third.CreatedAt = first.CreatedAt.Add(time.Hour)

	for _, s := range []*session.Session{first, second, third} {
		if err := st.PersistSession(s); err != nil {
			t.Fatalf("PersistSession failed: %v", err)
		}
	}

	summaries, err := st.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(summaries))
	}

	// Ordered by creation time across partitions, not by partition.
	wantOrder := []string{first.ID, third.ID, second.ID}
	for i, want := range wantOrder {
		if summaries[i].ID != want {
			t.Errorf("position %d: expected session %s, got %s", i, want, summaries[i].ID)
		}
	}
	if summaries[0].LapCount != 2 {
		t.Errorf("expected lap count 2, got %d", summaries[0].LapCount)
	}
	if summaries[0].SampleCount != 38 {
		t.Errorf("expected sample count 38, got %d", summaries[0].SampleCount)
	}
}

func TestListSessionsSeesClosedPartitions(t *testing.T) {
	dir := t.TempDir()

	st := NewStore(dir)
	s := testSession("aaaa1111-aaaa-bbbb-cccc-dddddddddddd", "Brands Hatch", "Race")
	if err := st.PersistSession(s); err != nil {
		t.Fatalf("PersistSession failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh store over the same directory discovers partitions on disk.
	st2 := NewStore(dir)
	defer st2.Close()
	summaries, err := st2.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 session, got %d", len(summaries))
	}
	if summaries[0].ID != s.ID {
		t.Errorf("expected session %s, got %s", s.ID, summaries[0].ID)
	}
}

func TestPersistLapRejectsInvalidLap(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	defer st.Close()

	meta := *testSession("bbbb1111-aaaa-bbbb-cccc-dddddddddddd", "Mid-Ohio", "Race")
	meta.Laps = nil

	bad := testLap(0, 5, true, 0)
	if err := st.PersistLap(meta, bad); err == nil {
		t.Fatal("expected error for lap number 0, got nil")
	}

	// Validation runs before the partition is created.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no partition directories after rejected write, found %d", len(entries))
	}
}

func TestPersistSessionRejectsUnorderedLaps(t *testing.T) {
	st := NewStore(t.TempDir())
	defer st.Close()

	s := testSession("cccc1111-aaaa-bbbb-cccc-dddddddddddd", "Monza", "Race")
	s.Laps = []session.Lap{
		testLap(2, 5, true, 90),
		testLap(1, 5, true, 91),
	}
	if err := st.PersistSession(s); err == nil {
		t.Fatal("expected error for unordered lap numbers, got nil")
	}
}
