package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/laptrace/internal/monitoring"
	"github.com/banshee-data/laptrace/internal/session"
	"github.com/banshee-data/laptrace/internal/telemetry"
)

// State is the capture state machine's current state.
type State int

const (
	// StateIdle means no source is available or capture has not started.
	StateIdle State = iota
	// StateCapturing means ticks are being accepted.
	StateCapturing
	// StateStopped is terminal, entered only on an explicit stop request.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sink receives finalized records from the machine. The lap's sample slice
// and the finalized session are immutable snapshots; implementations may hand
// them to background work but must not block the tick path.
type Sink interface {
	// LapFinalized delivers a closed lap. meta is a copy of the owning
	// session's metadata with Laps unset.
	LapFinalized(meta session.Session, lap session.Lap)

	// SessionFinalized delivers a closed session with all its laps. The
	// machine never touches the record again.
	SessionFinalized(s *session.Session)
}

// pctWrapThreshold is how far distance_pct must fall between consecutive
// samples to count as a start/finish wrap rather than noise.
const pctWrapThreshold = 0.5

// Machine is the session/lap state machine. It is not safe for concurrent
// use; exactly one goroutine feeds it via Handle.
type Machine struct {
	state State
	sink  Sink

	sess     *session.Session
	lapNum   int
	buf      *Buffer
	accepted int // ticks accepted for the current session

	lastPct float64
	havePct bool

	newID func() string
	now   func() time.Time
}

// NewMachine creates a machine in StateIdle delivering finalized records to
// sink.
func NewMachine(sink Sink) *Machine {
	return &Machine{
		sink:  sink,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// SessionNum returns the source session number of the open session. ok is
// false when no session is open.
func (m *Machine) SessionNum() (int, bool) {
	if m.sess == nil {
		return 0, false
	}
	return m.sess.SessionNum, true
}

// LapNumber returns the number of the lap currently being buffered, or 0.
func (m *Machine) LapNumber() int { return m.lapNum }

// Accepted returns the tick count accepted for the current session. It
// always equals the sum of samples across the session's finalized laps plus
// the open buffer.
func (m *Machine) Accepted() int { return m.accepted }

// Session returns the open session, or nil. The caller must not retain it
// across further Handle calls.
func (m *Machine) Session() *session.Session { return m.sess }

// Handle consumes one event and applies the transition table. Boundary
// conditions are ordinary transitions, never error paths.
func (m *Machine) Handle(ev Event) {
	if m.state == StateStopped {
		return
	}

	switch ev.Kind {
	case EventStopRequested:
		// Cancellation: an open lap that crossed no boundary closes
		// incomplete.
		m.closeSession(false)
		m.state = StateStopped

	case EventSourceLost:
		// Treated identically to a session-number change.
		m.closeSession(true)
		m.state = StateIdle

	case EventTick:
		m.handleTick(ev)
	}
}

func (m *Machine) handleTick(ev Event) {
	frame := ev.Frame

	if m.sess == nil {
		m.openSession(ev.Info, frame)
	} else if frame.SessionNum != m.sess.SessionNum {
		m.closeSession(true)
		m.openSession(ev.Info, frame)
	} else {
		m.checkLapBoundary(frame)
	}

	m.buf.Append(frame.Sample)
	m.accepted++
	m.lastPct = frame.Sample.DistancePct
	m.havePct = true
	m.state = StateCapturing
}

// checkLapBoundary closes the current lap when the source's lap counter
// advances. The counter is authoritative; the distance_pct wrap is a
// diagnostic cross-check only.
func (m *Machine) checkLapBoundary(frame telemetry.Frame) {
	next := normalizeLap(frame.LapNum)
	increased := next > m.lapNum
	wrapped := m.havePct && frame.Sample.DistancePct < m.lastPct-pctWrapThreshold

	if wrapped && !increased {
		monitoring.Logf("capture: distance_pct wrapped (%.3f -> %.3f) but source lap counter stayed at %d; trusting counter",
			m.lastPct, frame.Sample.DistancePct, frame.LapNum)
	}
	if increased && m.havePct && !wrapped {
		monitoring.Logf("capture: source lap counter advanced %d -> %d without a distance_pct wrap; trusting counter",
			m.lapNum, next)
	}

	if !increased {
		return
	}

	// The boundary tick carries the completed lap's time; the lap-time
	// channel is stale on every other tick.
	m.closeLap(true, frame.LastLapTime)
	m.lapNum = next
	m.havePct = false
}

// openSession starts a new session and its first lap from the given tick.
// The tick that carried the new session number belongs to the new session.
func (m *Machine) openSession(info telemetry.SessionInfo, frame telemetry.Frame) {
	m.sess = &session.Session{
		ID:          m.newID(),
		SessionNum:  frame.SessionNum,
		Track:       info.Track,
		TrackConfig: info.TrackConfig,
		Car:         info.Car,
		Driver:      info.Driver,
		SessionType: info.SessionType,
		CreatedAt:   m.now(),
	}
	m.lapNum = normalizeLap(frame.LapNum)
	m.buf = NewBuffer()
	m.accepted = 0
	m.havePct = false
	monitoring.Logf("capture: session %s started (track=%q type=%q session_num=%d)",
		shortID(m.sess.ID), m.sess.Track, m.sess.SessionType, m.sess.SessionNum)
}

// closeLap finalizes the buffered lap, hands it to the session and the sink,
// and allocates a fresh buffer. Empty laps are discarded silently.
func (m *Machine) closeLap(complete bool, lapTime float64) {
	if m.buf == nil {
		m.buf = NewBuffer()
		return
	}
	if m.buf.Len() == 0 {
		return
	}

	lap := session.Lap{
		Number:   m.lapNum,
		Complete: complete,
		Samples:  m.buf.Take(),
	}
	if complete && lapTime > 0 {
		lap.LapTime = lapTime
	}
	m.buf = NewBuffer()

	m.sess.Laps = append(m.sess.Laps, lap)

	meta := *m.sess
	meta.Laps = nil
	m.sink.LapFinalized(meta, lap)
}

// closeSession finalizes the open lap and session. Sessions with no recorded
// laps are dropped, matching the rule that nothing empty is persisted.
func (m *Machine) closeSession(lapComplete bool) {
	if m.sess == nil {
		return
	}
	m.closeLap(lapComplete, 0)

	if len(m.sess.Laps) > 0 {
		m.sink.SessionFinalized(m.sess)
	} else {
		monitoring.Logf("capture: session %s closed with no laps; discarded", shortID(m.sess.ID))
	}

	m.sess = nil
	m.lapNum = 0
	m.buf = nil
	m.accepted = 0
	m.havePct = false
}

// normalizeLap maps the source's lap counter onto the 1-based record space.
// Some sources report the out-lap as lap 0.
func normalizeLap(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
