package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/laptrace/internal/session"
	"github.com/banshee-data/laptrace/internal/telemetry"
)

var ErrSessionNotFound = errors.New("session not found")

// Summary describes a stored session without its sample payload.
type Summary struct {
	ID          string    `json:"session_id"`
	SessionNum  int       `json:"session_num"`
	Track       string    `json:"track"`
	TrackConfig string    `json:"track_config,omitempty"`
	Car         string    `json:"car,omitempty"`
	Driver      string    `json:"driver,omitempty"`
	SessionType string    `json:"session_type"`
	CreatedAt   time.Time `json:"created_at"`
	LapCount    int       `json:"lap_count"`
	SampleCount int       `json:"sample_count"`
}

// partitionKeys walks the base directory for partitions that exist on disk,
// whether or not they are open yet.
func (st *Store) partitionKeys() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(st.baseDir, "*", "*", dbFileName))
	if err != nil {
		return nil, fmt.Errorf("scan partitions under %s: %w", st.baseDir, err)
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(st.baseDir, filepath.Dir(m))
		if err != nil {
			return nil, err
		}
		keys = append(keys, filepath.ToSlash(rel))
	}
	sort.Strings(keys)
	return keys, nil
}

// ListSessions returns summaries for every stored session across all
// partitions, ordered by creation time.
func (st *Store) ListSessions() ([]Summary, error) {
	keys, err := st.partitionKeys()
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, key := range keys {
		db, err := st.openPartition(key)
		if err != nil {
			return nil, err
		}
		summaries, err := listPartition(db)
		if err != nil {
			return nil, fmt.Errorf("list partition %s: %w", key, err)
		}
		out = append(out, summaries...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func listPartition(db *DB) ([]Summary, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.session_num, s.track, s.track_config, s.car, s.driver, s.session_type, s.created_at,
		       (SELECT COUNT(*) FROM laps l WHERE l.session_id = s.session_id),
		       (SELECT COUNT(*) FROM samples sa WHERE sa.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var createdAt string
		if err := rows.Scan(&sm.ID, &sm.SessionNum, &sm.Track, &sm.TrackConfig, &sm.Car, &sm.Driver,
			&sm.SessionType, &createdAt, &sm.LapCount, &sm.SampleCount); err != nil {
			return nil, err
		}
		sm.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for session %s: %w", sm.ID, err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// LoadSession returns the full record for the session whose id matches the
// given id or unique id prefix, searching every partition. Returns
// ErrSessionNotFound when nothing matches.
func (st *Store) LoadSession(id string) (*session.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrSessionNotFound)
	}
	keys, err := st.partitionKeys()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		db, err := st.openPartition(key)
		if err != nil {
			return nil, err
		}
		s, err := loadFrom(db, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session from partition %s: %w", key, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

func loadFrom(db *DB, id string) (*session.Session, error) {
	s, err := loadSessionRow(db, id)
	if err != nil {
		return nil, err
	}

	lapRows, err := db.Query(`
		SELECT lap_number, complete, lap_time
		FROM laps WHERE session_id = ? ORDER BY lap_number`, s.ID)
	if err != nil {
		return nil, err
	}
	defer lapRows.Close()

	for lapRows.Next() {
		var lap session.Lap
		var complete int
		if err := lapRows.Scan(&lap.Number, &complete, &lap.LapTime); err != nil {
			return nil, err
		}
		lap.Complete = complete != 0
		s.Laps = append(s.Laps, lap)
	}
	if err := lapRows.Err(); err != nil {
		return nil, err
	}

	if err := loadSamples(db, s); err != nil {
		return nil, err
	}
	return s, nil
}

func loadSessionRow(db *DB, id string) (*session.Session, error) {
	const cols = `session_id, session_num, track, track_config, car, driver, session_type, created_at`

	scan := func(row *sql.Row) (*session.Session, error) {
		var s session.Session
		var createdAt string
		err := row.Scan(&s.ID, &s.SessionNum, &s.Track, &s.TrackConfig, &s.Car, &s.Driver,
			&s.SessionType, &createdAt)
		if err != nil {
			return nil, err
		}
		s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for session %s: %w", s.ID, err)
		}
		return &s, nil
	}

	s, err := scan(db.QueryRow(`SELECT `+cols+` FROM sessions WHERE session_id = ?`, id))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Fall back to prefix match so short ids from the list output work.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_id LIKE ?`, id+"%").Scan(&n); err != nil {
		return nil, err
	}
	switch {
	case n == 0:
		return nil, ErrSessionNotFound
	case n > 1:
		return nil, fmt.Errorf("session id prefix %q is ambiguous (%d matches)", id, n)
	}
	return scan(db.QueryRow(`SELECT `+cols+` FROM sessions WHERE session_id LIKE ?`, id+"%"))
}

func loadSamples(db *DB, s *session.Session) error {
	rows, err := db.Query(`
		SELECT lap_number,
		       lap, time, distance, distance_pct, speed, throttle, brake,
		       steering, gear, rpm, lat_accel, long_accel, yaw_rate, steering_wheel_angle
		FROM samples WHERE session_id = ?
		ORDER BY lap_number, sample_index`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byNumber := make(map[int]*session.Lap, len(s.Laps))
	for i := range s.Laps {
		byNumber[s.Laps[i].Number] = &s.Laps[i]
	}

	for rows.Next() {
		var lapNumber int
		var sm telemetry.Sample
		if err := rows.Scan(&lapNumber,
			&sm.Lap, &sm.Time, &sm.Distance, &sm.DistancePct, &sm.Speed, &sm.Throttle, &sm.Brake,
			&sm.Steering, &sm.Gear, &sm.RPM, &sm.LatAccel, &sm.LongAccel, &sm.YawRate, &sm.SteeringWheelAngle,
		); err != nil {
			return err
		}
		lap, ok := byNumber[lapNumber]
		if !ok {
			return fmt.Errorf("sample references unknown lap %d of session %s", lapNumber, s.ID)
		}
		lap.Samples = append(lap.Samples, sm)
	}
	return rows.Err()
}
