// Package store persists captured sessions in sqlite, one database per
// track and session type partition.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"

	"github.com/banshee-data/laptrace/internal/security"
	"github.com/banshee-data/laptrace/internal/session"
)

const dbFileName = "sessions.db"

// Store manages a directory tree of sqlite partitions laid out as
// {baseDir}/{track}/{session_type}/sessions.db. Partitions are created on
// first write and opened lazily thereafter. Safe for concurrent use.
type Store struct {
	baseDir string

	mu    sync.Mutex
	parts map[string]*DB // partition key ("track/type") -> open handle
	tsql  *tailsql.Server
}

func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		parts:   make(map[string]*DB),
	}
}

// Close closes every open partition. The store must not be used afterwards.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	var firstErr error
	for key, db := range st.parts {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close partition %s: %w", key, err)
		}
		delete(st.parts, key)
	}
	return firstErr
}

// partitionKey builds the slash-joined key for a track and session type,
// with the same name sanitization used for paths on disk.
func partitionKey(track, sessionType string) string {
	return sanitizeName(track) + "/" + sanitizeName(sessionType)
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "-")
	return name
}

// partition returns the open database for the given track and session type,
// creating the partition directory and schema on first use.
func (st *Store) partition(track, sessionType string) (*DB, error) {
	key := partitionKey(track, sessionType)
	dir := filepath.Join(st.baseDir, filepath.FromSlash(key))
	if err := security.ValidatePathWithinDirectory(dir, st.baseDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition directory %s: %w", dir, err)
	}
	return st.openPartition(key)
}

// openPartition opens (or returns the cached handle for) the partition at
// the given key. The partition directory must already exist.
func (st *Store) openPartition(key string) (*DB, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if db, ok := st.parts[key]; ok {
		return db, nil
	}
	db, err := newDB(filepath.Join(st.baseDir, filepath.FromSlash(key), dbFileName))
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", key, err)
	}
	st.parts[key] = db
	if st.tsql != nil {
		st.registerPartition(key, db)
	}
	return db, nil
}

// PersistLap writes one finalized lap and refreshes the session metadata row
// it belongs to. The write is transactional: on error the partition is left
// exactly as it was. Re-persisting the same lap overwrites it in place.
func (st *Store) PersistLap(meta session.Session, lap session.Lap) error {
	if err := session.ValidateLap(&lap); err != nil {
		return fmt.Errorf("reject lap %d of session %s: %w", lap.Number, meta.ID, err)
	}
	if meta.ID == "" || meta.Track == "" || meta.SessionType == "" {
		return fmt.Errorf("reject lap %d: incomplete session metadata (id=%q track=%q type=%q)",
			lap.Number, meta.ID, meta.Track, meta.SessionType)
	}

	db, err := st.partition(meta.Track, meta.SessionType)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertSession(tx, &meta); err != nil {
		return err
	}
	if err := writeLap(tx, meta.ID, &lap); err != nil {
		return err
	}
	return tx.Commit()
}

// PersistSession writes the complete finalized record, replacing any laps
// written incrementally during capture so the stored record matches the
// finalized session exactly.
func (st *Store) PersistSession(s *session.Session) error {
	if err := session.Validate(s); err != nil {
		return fmt.Errorf("reject session: %w", err)
	}

	db, err := st.partition(s.Track, s.SessionType)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertSession(tx, s); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM samples WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear samples for session %s: %w", s.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM laps WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear laps for session %s: %w", s.ID, err)
	}
	for i := range s.Laps {
		if err := writeLap(tx, s.ID, &s.Laps[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertSession(tx *sql.Tx, s *session.Session) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (session_id, session_num, track, track_config, car, driver, session_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			session_num  = excluded.session_num,
			track_config = excluded.track_config,
			car          = excluded.car,
			driver       = excluded.driver,
			created_at   = excluded.created_at`,
		s.ID, s.SessionNum, s.Track, s.TrackConfig, s.Car, s.Driver, s.SessionType,
		s.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	return nil
}

func writeLap(tx *sql.Tx, sessionID string, lap *session.Lap) error {
	_, err := tx.Exec(`
		INSERT INTO laps (session_id, lap_number, complete, lap_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, lap_number) DO UPDATE SET
			complete = excluded.complete,
			lap_time = excluded.lap_time`,
		sessionID, lap.Number, boolInt(lap.Complete), lap.LapTime)
	if err != nil {
		return fmt.Errorf("write lap %d of session %s: %w", lap.Number, sessionID, err)
	}

	if _, err := tx.Exec(`DELETE FROM samples WHERE session_id = ? AND lap_number = ?`,
		sessionID, lap.Number); err != nil {
		return fmt.Errorf("clear samples for lap %d of session %s: %w", lap.Number, sessionID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO samples (
			session_id, lap_number, sample_index,
			lap, time, distance, distance_pct, speed, throttle, brake,
			steering, gear, rpm, lat_accel, long_accel, yaw_rate, steering_wheel_angle
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i := range lap.Samples {
		sm := &lap.Samples[i]
		if _, err := stmt.Exec(
			sessionID, lap.Number, i,
			sm.Lap, sm.Time, sm.Distance, sm.DistancePct, sm.Speed, sm.Throttle, sm.Brake,
			sm.Steering, sm.Gear, sm.RPM, sm.LatAccel, sm.LongAccel, sm.YawRate, sm.SteeringWheelAngle,
		); err != nil {
			return fmt.Errorf("write sample %d of lap %d: %w", i, lap.Number, err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
