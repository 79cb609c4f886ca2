package capture

import (
	"sync"

	"github.com/banshee-data/laptrace/internal/session"
)

// persistJob is one unit of background work: either a finalized lap (lap set)
// or a finalized session (sess set).
type persistJob struct {
	meta session.Session
	lap  *session.Lap
	sess *session.Session
}

// jobQueue is an unbounded FIFO feeding the background writer. Finalized
// records queue in memory when persistence falls behind; ticks are never
// dropped to relieve that pressure.
type jobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []persistJob
	closed bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a job. Never blocks.
func (q *jobQueue) push(j persistJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, j)
	q.cond.Signal()
}

// pop blocks until a job is available or the queue is closed and drained.
func (q *jobQueue) pop() (persistJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return persistJob{}, false
	}
	j := q.items[0]
	q.items = q.items[1:]
	return j, true
}

// close marks the queue finished. Already-queued jobs remain poppable so the
// writer drains everything before exit.
func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// depth returns the number of queued jobs.
func (q *jobQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
