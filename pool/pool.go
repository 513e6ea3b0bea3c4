package pool

import (
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nmcclatchey/thread-pool/internal/affinity"
	"github.com/nmcclatchey/thread-pool/internal/central"
	"github.com/nmcclatchey/thread-pool/internal/localqueue"
	"github.com/nmcclatchey/thread-pool/internal/metrics"
	"github.com/nmcclatchey/thread-pool/internal/timerheap"
)

// Pool is the top-level scheduler object. A Pool must be created with New
// and must eventually be released with Close. The zero Pool is not usable.
type Pool struct {
	cfg      config
	central  *central.Queue[Task]
	timed    *timerheap.Heap[Task]
	registry *affinity.Registry[worker]
	rec      *metrics.Recorder

	mu             sync.Mutex
	state          poolState
	workers        []*worker
	liveCount      int
	requestedCount int
	idleCount      int
	parkedCount    int
	group          *errgroup.Group
	resumeSignal   chan struct{}
	haltedSignal   chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New constructs a Pool and starts its workers. It returns ErrStartFailure
// only if not a single worker could be started.
func New(opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		cfg:          cfg,
		central:      central.New[Task](),
		timed:        timerheap.New[Task](),
		registry:     affinity.NewRegistry[worker](),
		state:        stateInitializing,
		resumeSignal: make(chan struct{}),
		shutdown:     make(chan struct{}),
		group:        &errgroup.Group{},
	}

	if cfg.metricsRegisterer != nil {
		rec, err := metrics.NewRecorder(cfg.metricsNamespace, cfg.metricsRegisterer)
		if err != nil {
			return nil, err
		}
		p.rec = rec
	}

	p.requestedCount = cfg.workers
	if err := p.startWorkers(cfg.workers); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.state = stateRunning
	p.mu.Unlock()

	return p, nil
}

// startWorkers launches goroutines for however many of the requested
// worker slots are not already live. Go has no failure mode for starting a
// goroutine short of the runtime already being unable to make progress, so
// in practice this only fails to reach the requested count when it is
// called with want <= 0.
func (p *Pool) startWorkers(want int) error {
	p.mu.Lock()
	existing := len(p.workers)
	need := want - p.liveCount
	for i := 0; i < need; i++ {
		w := newWorker(p, existing+i)
		p.workers = append(p.workers, w)
		p.liveCount++
		p.group.Go(func() error {
			w.run()
			return nil
		})
	}
	live := p.liveCount
	p.mu.Unlock()
	if p.rec != nil {
		p.rec.SetWorkersLive(live)
	}

	if live == 0 {
		return ErrStartFailure
	}
	return nil
}

// Schedule enqueues task for asynchronous execution. Called from inside
// one of this pool's own workers with local queue capacity to spare, it
// takes the fast path straight into that worker's local queue; otherwise
// it takes the slow path into the central queue.
func (p *Pool) Schedule(task Task) error {
	if p.loadState() >= stateShuttingDown {
		return ErrClosed
	}
	if w, ok := p.registry.Self(); ok {
		t := task
		if w.local.PushBack(&t) {
			return nil
		}
	}
	return p.scheduleCentral(task)
}

// ScheduleSubtask behaves like Schedule when called from outside the pool.
// Called from inside a worker, it always tries that worker's local queue
// first and inserts at the owner-LIFO end, so the subtask is the very next
// task that worker pops — it is treated as a continuation of the task that
// scheduled it, not as an independent unit of work.
func (p *Pool) ScheduleSubtask(task Task) error {
	if p.loadState() >= stateShuttingDown {
		return ErrClosed
	}
	if w, ok := p.registry.Self(); ok {
		t := task
		if w.local.PushBack(&t) {
			return nil
		}
	}
	return p.scheduleCentral(task)
}

// ScheduleAfter enqueues task for execution no earlier than delay from now.
func (p *Pool) ScheduleAfter(delay time.Duration, task Task) error {
	return p.ScheduleAt(time.Now().Add(delay), task)
}

// ScheduleAt enqueues task for execution no earlier than deadline. If
// deadline is not in the future, it is dispatched immediately as if by
// Schedule.
func (p *Pool) ScheduleAt(deadline time.Time, task Task) error {
	if p.loadState() >= stateShuttingDown {
		return ErrClosed
	}
	if !deadline.After(time.Now()) {
		return p.Schedule(task)
	}

	t := task
	p.timed.Push(deadline, &t)
	p.setTimedHeapDepthMetric()
	// A single wakeup send only reaches one arbitrary idle worker, which
	// might not be the one already holding the timer role and sleeping on
	// a longer timeout. Broadcasting is the simple, correct way to make
	// sure whichever worker (if any) is the current timer wakes up and
	// re-peeks; it is a documented trade-off against the alternative of
	// tracking and directly signaling the specific timer-holding worker.
	p.central.Broadcast()
	return nil
}

func (p *Pool) scheduleCentral(task Task) error {
	t := task
	p.central.Push(&t)
	p.setCentralQueueDepthMetric()
	return nil
}

// Concurrency returns the number of worker goroutines currently alive.
func (p *Pool) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveCount
}

// WorkerCapacity returns C, the fixed capacity of every worker's local
// queue. It is also available without a Pool via the package-level
// WorkerCapacity function, since the capacity is a build-time constant, not
// something any particular pool instance controls.
func (p *Pool) WorkerCapacity() int {
	return WorkerCapacity()
}

// WorkerCapacity returns C, the fixed capacity of every worker's local
// queue.
func WorkerCapacity() int {
	return localqueue.Capacity
}

// IsIdle reports true only if every live worker is currently parked
// waiting on the central queue and both the central queue and the timed
// heap (for deadlines that have already passed) are empty. Called from
// within a task it necessarily returns false, since that task's worker is
// active, not waiting.
func (p *Pool) IsIdle() bool {
	p.mu.Lock()
	st := p.state
	idle := p.idleCount
	live := p.liveCount
	p.mu.Unlock()

	if st != stateRunning || live == 0 || idle < live {
		return false
	}
	if p.central.Len() != 0 {
		return false
	}
	if d, ok := p.timed.NextDeadline(); ok && !d.After(time.Now()) {
		return false
	}
	return true
}

// Halt transitions the pool from Running to Halting and blocks until every
// worker has parked (Halted). Halt is idempotent: calling it again while
// already Halting or Halted just waits on (or immediately observes) the
// same quiescence signal.
//
// Calling Halt from inside a task running on one of this pool's own
// workers blocks that call itself: the worker parks in place right here,
// exactly as parkForHalt parks any other worker, with the in-flight task
// still on the stack beneath this call holding whatever resources it
// holds. It stays parked until Resume or Close wakes it, at which point
// Halt returns and the task continues running from where it left off.
func (p *Pool) Halt() {
	p.mu.Lock()
	if p.state == stateRunning {
		p.state = stateHalting
		p.haltedSignal = make(chan struct{})
		if p.liveCount == 0 {
			close(p.haltedSignal)
			p.state = stateHalted
		}
	}
	signal := p.haltedSignal
	st := p.state
	p.mu.Unlock()

	if st != stateHalting && st != stateHalted {
		return
	}

	debugLog("pool: halting")
	p.central.Broadcast()

	if w, ok := p.registry.Self(); ok {
		w.parkForHalt()
		debugLog("pool: halted")
		return
	}
	<-signal
	debugLog("pool: halted")
}

// Resume transitions the pool from Halted back to Running, restarting any
// worker slot that never got up to the requested count, and unparks every
// currently-halted worker. It is idempotent when the pool is already
// running.
func (p *Pool) Resume() error {
	p.mu.Lock()
	switch p.state {
	case stateRunning:
		p.mu.Unlock()
		return nil
	case stateHalting, stateHalted:
		old := p.resumeSignal
		p.resumeSignal = make(chan struct{})
		p.state = stateRunning
		p.mu.Unlock()
		close(old)
		debugLog("pool: resuming")
		return p.startWorkers(p.requestedCount)
	default:
		p.mu.Unlock()
		return ErrClosed
	}
}

// IsHalted reports true only after every live worker has fully parked.
func (p *Pool) IsHalted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateHalted
}

// Close stops the pool permanently: it wakes every worker, waits for all of
// them to exit, and discards any tasks left in the central queue or timed
// heap without invoking them. Calling Close from inside one of the pool's
// own workers is undefined, since that worker cannot join itself.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.state == stateDead || p.state == stateShuttingDown {
		p.mu.Unlock()
		return nil
	}
	p.state = stateShuttingDown
	p.mu.Unlock()

	// Closing shutdown wakes both a worker parked in parkForHalt (it
	// selects on this same channel) and one blocked in central.WaitPop
	// (passed the same channel as its done argument); Broadcast covers the
	// rest, including anyone about to enter either wait.
	p.shutdownOnce.Do(func() { close(p.shutdown) })
	p.central.Broadcast()

	err := p.group.Wait()

	p.mu.Lock()
	p.state = stateDead
	p.mu.Unlock()

	return err
}

func (p *Pool) loadState() poolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) snapshotWorkers() []*worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*worker, len(p.workers))
	copy(out, p.workers)
	return out
}

func (p *Pool) parkChannels() (resume <-chan struct{}, shutdown <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeSignal, p.shutdown
}

func (p *Pool) markParked() {
	p.mu.Lock()
	p.parkedCount++
	if p.state == stateHalting && p.parkedCount >= p.liveCount {
		p.state = stateHalted
		if p.haltedSignal != nil {
			close(p.haltedSignal)
		}
	}
	p.mu.Unlock()
}

func (p *Pool) unmarkParked() {
	p.mu.Lock()
	p.parkedCount--
	p.mu.Unlock()
}

func (p *Pool) markIdle() {
	p.mu.Lock()
	p.idleCount++
	p.mu.Unlock()
	if p.rec != nil {
		p.rec.SetWorkersIdle(p.idleCount)
	}
}

func (p *Pool) unmarkIdle() {
	p.mu.Lock()
	p.idleCount--
	idle := p.idleCount
	p.mu.Unlock()
	if p.rec != nil {
		p.rec.SetWorkersIdle(idle)
	}
}

func (p *Pool) workerExited(w *worker) {
	p.mu.Lock()
	p.liveCount--
	live := p.liveCount
	p.mu.Unlock()
	if p.rec != nil {
		p.rec.SetWorkersLive(live)
	}
}

func (p *Pool) recordExecuted(path metrics.Path) {
	if p.rec != nil {
		p.rec.IncTasksExecuted(path)
	}
}

func (p *Pool) setCentralQueueDepthMetric() {
	if p.rec != nil {
		p.rec.SetCentralQueueDepth(p.central.Len())
	}
}

func (p *Pool) setTimedHeapDepthMetric() {
	if p.rec != nil {
		p.rec.SetTimedHeapDepth(p.timed.Len())
	}
}

// invoke runs task, recovering a panic into a fatal, process-terminating
// fault: a task's own invocation contract carries no error channel, so an
// abnormal termination here is treated as a violation of the pool's
// contract rather than something a caller can catch.
func (p *Pool) invoke(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.fatal(r)
		}
	}()
	task()
}

// fatalExit is a var so tests can swap in a non-terminating stand-in.
var fatalExit = func() { os.Exit(2) }

func (p *Pool) fatal(recovered any) {
	buf := make([]byte, 16*1024)
	n := runtime.Stack(buf, false)
	debugLog("pool: task invocation fault: %v", recovered)
	log.Printf("taskpool: task invocation fault, terminating: %v\n%s", recovered, buf[:n])
	fatalExit()
}
