package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/laptrace/internal/monitoring"
	"github.com/banshee-data/laptrace/internal/session"
	"github.com/banshee-data/laptrace/internal/telemetry"
	"github.com/banshee-data/laptrace/internal/timeutil"
)

// Writer persists finalized records. Both methods must be idempotent and
// fail-atomic; failures are reported with session and lap context and never
// stop capture.
type Writer interface {
	PersistLap(meta session.Session, lap session.Lap) error
	PersistSession(s *session.Session) error
}

// Exporter produces the complete-session export, the one export that is
// auto-triggered rather than user-initiated.
type Exporter interface {
	ExportCompleteSession(s *session.Session) (string, error)
	WriteSessionRecord(s *session.Session) (string, error)
}

// Options configures the polling loop.
type Options struct {
	// PollRate is the tick frequency in Hz. Default 60 (≈16.7 ms period).
	PollRate int
	// RetryDelay is the idle wait between polls while the source is
	// unavailable. Default 1s.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollRate <= 0 {
		o.PollRate = 60
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// Status is a point-in-time snapshot of the capture loop for external
// observers.
type Status struct {
	State        string `json:"state"`
	SessionID    string `json:"session_id,omitempty"`
	Track        string `json:"track,omitempty"`
	SessionType  string `json:"session_type,omitempty"`
	LapNumber    int    `json:"lap_number,omitempty"`
	LapsDone     int    `json:"laps_done"`
	Accepted     int    `json:"samples_accepted"`
	QueueDepth   int    `json:"persist_queue_depth"`
	PersistFails int    `json:"persist_failures"`
}

// Runner owns the polling loop: it polls the source at the configured rate,
// feeds the state machine, and runs persistence plus the auto-export on a
// background writer fed with immutable finalized snapshots.
type Runner struct {
	src    telemetry.Source
	writer Writer
	export Exporter
	opts   Options
	clock  timeutil.Clock

	machine *Machine
	queue   *jobQueue

	mu       sync.Mutex
	status   Status
	errs     []error
	cancel   context.CancelFunc
	running  bool
	exported []string
}

// NewRunner wires a runner. writer and export receive the background work.
func NewRunner(src telemetry.Source, writer Writer, export Exporter, opts Options) *Runner {
	r := &Runner{
		src:    src,
		writer: writer,
		export: export,
		opts:   opts.withDefaults(),
		clock:  timeutil.RealClock{},
		queue:  newJobQueue(),
	}
	r.machine = NewMachine(r)
	r.status.State = StateIdle.String()
	return r
}

// LapFinalized implements Sink by queueing the lap for background
// persistence.
func (r *Runner) LapFinalized(meta session.Session, lap session.Lap) {
	r.queue.push(persistJob{meta: meta, lap: &lap})
}

// SessionFinalized implements Sink by queueing the session for background
// persistence and auto-export.
func (r *Runner) SessionFinalized(s *session.Session) {
	r.queue.push(persistJob{sess: s})
}

// Run polls until ctx is cancelled or Stop is called, then finalizes the open
// lap and session, drains the persistence queue, and returns. The stop signal
// is observed at the top of the tick loop, never mid-tick, and no unflushed
// state is discarded.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		cancel()
		return errors.New("capture already running")
	}
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.writerLoop()
	}()

	interval := time.Second / time.Duration(r.opts.PollRate)
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.handle(Event{Kind: EventStopRequested})
			r.queue.close()
			wg.Wait()
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return nil

		case <-ticker.C():
			r.tick(ctx)
		}
	}
}

// Stop requests a cooperative stop. Safe to call from any goroutine; a no-op
// when the runner is not running.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runner) tick(ctx context.Context) {
	frame, err := r.src.Poll()
	if err != nil {
		if !errors.Is(err, telemetry.ErrSourceUnavailable) {
			monitoring.Logf("capture: poll error: %v", err)
		}
		if r.machine.State() == StateCapturing {
			monitoring.Logf("capture: telemetry source lost mid-capture; closing session")
			r.handle(Event{Kind: EventSourceLost})
		}
		// Source absence is a normal condition; back off before re-polling.
		select {
		case <-r.clock.After(r.opts.RetryDelay):
		case <-ctx.Done():
		}
		return
	}

	ev := Event{Kind: EventTick, Frame: frame}
	if num, ok := r.machine.SessionNum(); !ok || num != frame.SessionNum {
		info, err := r.src.SessionInfo()
		if err != nil {
			// Cannot open a session without metadata; skip the tick and retry.
			monitoring.Logf("capture: session metadata unavailable: %v", err)
			return
		}
		ev.Info = info
	}
	r.handle(ev)
}

// handle feeds the machine and refreshes the published status snapshot.
func (r *Runner) handle(ev Event) {
	r.machine.Handle(ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = r.machine.State().String()
	r.status.LapNumber = r.machine.LapNumber()
	r.status.Accepted = r.machine.Accepted()
	r.status.QueueDepth = r.queue.depth()
	if s := r.machine.Session(); s != nil {
		r.status.SessionID = s.ID
		r.status.Track = s.Track
		r.status.SessionType = s.SessionType
		r.status.LapsDone = len(s.Laps)
	} else {
		r.status.SessionID = ""
		r.status.Track = ""
		r.status.SessionType = ""
		r.status.LapsDone = 0
	}
}

// writerLoop drains the persistence queue until it is closed and empty.
func (r *Runner) writerLoop() {
	for {
		j, ok := r.queue.pop()
		if !ok {
			return
		}
		r.process(j)
	}
}

func (r *Runner) process(j persistJob) {
	switch {
	case j.lap != nil:
		if err := r.writer.PersistLap(j.meta, *j.lap); err != nil {
			r.recordErr(fmt.Errorf("persist lap %d of session %s: %w", j.lap.Number, j.meta.ID, err))
		}

	case j.sess != nil:
		if err := r.writer.PersistSession(j.sess); err != nil {
			r.recordErr(fmt.Errorf("persist session %s: %w", j.sess.ID, err))
		}
		path, err := r.export.ExportCompleteSession(j.sess)
		if err != nil {
			r.recordErr(fmt.Errorf("complete-session export for %s: %w", j.sess.ID, err))
			return
		}
		if _, err := r.export.WriteSessionRecord(j.sess); err != nil {
			r.recordErr(fmt.Errorf("session record for %s: %w", j.sess.ID, err))
		}
		r.mu.Lock()
		r.exported = append(r.exported, path)
		r.mu.Unlock()
		monitoring.Logf("capture: session %s exported to %s", shortID(j.sess.ID), path)
	}
}

func (r *Runner) recordErr(err error) {
	monitoring.Logf("capture: %v", err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.status.PersistFails = len(r.errs)
}

// Status returns a snapshot of the capture loop.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	st.QueueDepth = r.queue.depth()
	return st
}

// PersistErrors returns the persistence and export failures recorded so far.
// Each error carries the session id and lap number needed to retry manually.
func (r *Runner) PersistErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// ExportedFiles returns the complete-session export paths written so far.
func (r *Runner) ExportedFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exported...)
}
