package pool

import (
	"math/rand/v2"
	"time"

	"github.com/nmcclatchey/thread-pool/internal/localqueue"
	"github.com/nmcclatchey/thread-pool/internal/metrics"
)

// worker owns exactly one local queue and runs the acquisition loop from
// the acquisition order below for as long as the pool is running.
type worker struct {
	pool  *Pool
	id    int
	local *localqueue.Queue[Task]
	rng   *rand.Rand

	// holdsTimer is only ever read or written by this worker's own
	// goroutine; it mirrors, but does not replace, the shared CAS flag in
	// internal/timerheap that arbitrates the role across workers.
	holdsTimer bool
}

func newWorker(p *Pool, id int) *worker {
	seed1 := uint64(id)*2654435761 + uint64(time.Now().UnixNano())
	seed2 := uint64(id) ^ 0x9e3779b97f4a7c15
	return &worker{
		pool:  p,
		id:    id,
		local: localqueue.New[Task](),
		rng:   rand.New(rand.NewPCG(seed1, seed2)),
	}
}

// run is the worker's goroutine body: it registers for fast-path
// scheduling detection, then alternates between the acquisition loop and
// parking while the pool is halted, until the pool starts shutting down.
func (w *worker) run() {
	debugLog("worker %d: starting", w.id)
	w.pool.registry.Register(w)
	defer w.pool.registry.Unregister()
	defer w.pool.workerExited(w)
	defer debugLog("worker %d: exiting", w.id)

	for {
		switch w.pool.loadState() {
		case stateShuttingDown, stateDead:
			return
		case stateHalting, stateHalted:
			w.parkForHalt()
			continue
		}

		task, ok := w.acquire()
		if !ok {
			continue
		}
		if w.holdsTimer {
			w.pool.timed.ReleaseTimerRole()
			w.holdsTimer = false
		}
		w.pool.invoke(task)
	}
}

// parkForHalt blocks until either resume() signals this halt cycle is
// over, or the pool starts shutting down while halted.
func (w *worker) parkForHalt() {
	w.pool.markParked()
	defer w.pool.unmarkParked()

	resumeCh, shutdownCh := w.pool.parkChannels()
	select {
	case <-resumeCh:
	case <-shutdownCh:
	}
}

// acquire runs one round of the five-step acquisition order. It returns
// (task, true) on success, or (nil, false) when the round produced nothing
// (a shutdown/halt wake, or a spurious wake) and the caller should loop
// back to re-check pool state before trying again.
func (w *worker) acquire() (Task, bool) {
	if tp, ok := w.local.PopBack(); ok {
		w.pool.recordExecuted(metrics.PathLocal)
		return *tp, true
	}

	if tp, ok := w.pool.central.TryPop(); ok {
		w.pool.setCentralQueueDepthMetric()
		w.pool.recordExecuted(metrics.PathCentral)
		return *tp, true
	}

	if t, ok := w.steal(); ok {
		w.pool.recordExecuted(metrics.PathStolen)
		return t, true
	}

	if task, ok := w.serviceTimerRole(); ok {
		w.pool.recordExecuted(metrics.PathTimed)
		return task, true
	}

	return w.waitForWork()
}

// steal attempts a single pass over every other worker's local queue: it
// starts at a randomly chosen position in the worker list and visits each
// other worker at most once, in rotation from that position.
func (w *worker) steal() (Task, bool) {
	peers := w.pool.snapshotWorkers()
	n := len(peers)
	if n <= 1 {
		return nil, false
	}

	start := w.rng.IntN(n)
	for i := 0; i < n; i++ {
		victim := peers[(start+i)%n]
		if victim == w {
			continue
		}
		if tp, ok := victim.local.PopFront(); ok {
			debugLog("worker %d: stole from worker %d", w.id, victim.id)
			return *tp, true
		}
	}
	return nil, false
}

// serviceTimerRole implements the timer-role protocol. If this worker does not
// yet hold the timer role, it tries to claim it. If it holds the role, it
// promotes every expired entry into its own local queue (bounded by
// remaining capacity) and immediately releases the role before returning
// one of the promoted tasks to the caller, since running a task counts as
// "doing long work."
func (w *worker) serviceTimerRole() (Task, bool) {
	if !w.holdsTimer {
		w.holdsTimer = w.pool.timed.TryClaimTimerRole()
	}
	if !w.holdsTimer {
		return nil, false
	}

	avail := localqueue.Capacity - w.local.Len()
	if avail <= 0 {
		w.pool.timed.ReleaseTimerRole()
		w.holdsTimer = false
		return nil, false
	}

	expired := w.pool.timed.DrainExpired(time.Now(), avail)
	if len(expired) == 0 {
		return nil, false
	}
	w.pool.setTimedHeapDepthMetric()

	for _, tp := range expired {
		w.local.PushBack(tp)
	}

	w.pool.timed.ReleaseTimerRole()
	w.holdsTimer = false

	tp, ok := w.local.PopBack()
	if !ok {
		return nil, false
	}
	return *tp, true
}

// waitForWork implements step 5: block on the central queue's wakeup,
// bounded by the next timed deadline if this worker still holds the timer
// role (it will, whenever the heap held only not-yet-due entries), or
// unbounded otherwise.
func (w *worker) waitForWork() (Task, bool) {
	var timeoutCh <-chan time.Time
	var timer *time.Timer

	if w.holdsTimer {
		if deadline, ok := w.pool.timed.NextDeadline(); ok {
			wait := time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timeoutCh = timer.C
		} else {
			w.pool.timed.ReleaseTimerRole()
			w.holdsTimer = false
		}
	}

	w.pool.markIdle()
	tp, ok := w.pool.central.WaitPop(timeoutCh, w.pool.shutdown)
	w.pool.unmarkIdle()

	if timer != nil {
		timer.Stop()
	}

	if !ok {
		return nil, false
	}
	w.pool.setCentralQueueDepthMetric()
	return *tp, true
}
