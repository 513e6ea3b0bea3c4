package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p, err := New(WithWorkers(workers))
	if err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestScheduleExecutesTask(t *testing.T) {
	p := newTestPool(t, 2)

	var ran atomic.Bool
	done := make(chan struct{})
	if err := p.Schedule(func() {
		ran.Store(true)
		close(done)
	}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	if !ran.Load() {
		t.Error("expected task to have run")
	}
}

// TestAtMostOnceExecution schedules a large number of tasks from outside the
// pool, so every one of them travels through the central queue, and checks
// each one is observed exactly once under real concurrency across 8 workers.
func TestAtMostOnceExecution(t *testing.T) {
	p := newTestPool(t, 8)
	const n = 100_000

	var counters [n]int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		if err := p.Schedule(func() {
			atomic.AddInt32(&counters[i], 1)
			wg.Done()
		}); err != nil {
			t.Fatalf("Schedule failed at %d: %v", i, err)
		}
	}
	wg.Wait()

	for i, c := range counters {
		if c != 1 {
			t.Fatalf("task %d executed %d times, want 1", i, c)
		}
	}
}

// TestSubtaskLIFOPreference runs a 50-link chain of subtasks, each scheduled
// with ScheduleSubtask from inside the previous link, and checks that the
// whole chain completes and that no more links are ever in flight at once
// than the pool has live workers. It does not observe the order in which a
// worker pops its queued tasks.
func TestSubtaskLIFOPreference(t *testing.T) {
	p := newTestPool(t, 4)

	var depth int32
	var maxDepth int32
	var wg sync.WaitGroup

	var recurse func(n int)
	recurse = func(n int) {
		defer wg.Done()
		d := atomic.AddInt32(&depth, 1)
		for {
			old := atomic.LoadInt32(&maxDepth)
			if d <= old || atomic.CompareAndSwapInt32(&maxDepth, old, d) {
				break
			}
		}
		defer atomic.AddInt32(&depth, -1)

		if n <= 0 {
			return
		}
		wg.Add(1)
		if err := p.ScheduleSubtask(func() { recurse(n - 1) }); err != nil {
			t.Errorf("ScheduleSubtask failed: %v", err)
			wg.Done()
		}
	}

	wg.Add(1)
	if err := p.Schedule(func() { recurse(50) }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	wg.Wait()

	if got, live := atomic.LoadInt32(&maxDepth), int32(p.Concurrency()); got > live {
		t.Errorf("expected at most %d links in flight at once, saw %d", live, got)
	}
}

func TestScheduleAfterRespectsOrdering(t *testing.T) {
	p := newTestPool(t, 4)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	delays := []time.Duration{
		60 * time.Millisecond,
		10 * time.Millisecond,
		40 * time.Millisecond,
		20 * time.Millisecond,
	}
	wg.Add(len(delays))
	for i, d := range delays {
		i := i
		if err := p.ScheduleAfter(d, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}); err != nil {
			t.Fatalf("ScheduleAfter failed: %v", err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 3, 2, 0}
	if len(order) != len(want) {
		t.Fatalf("expected %d firings, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("firing order mismatch at %d: got %v, want %v", i, order, want)
			break
		}
	}
}

func TestScheduleAtInThePastRunsImmediately(t *testing.T) {
	p := newTestPool(t, 2)

	done := make(chan struct{})
	if err := p.ScheduleAt(time.Now().Add(-time.Hour), func() {
		close(done)
	}); err != nil {
		t.Fatalf("ScheduleAt failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("past-deadline task never ran")
	}
}

// TestCentralQueueOverflow schedules far more tasks than any single
// worker's local queue could hold, all from outside the pool, to exercise
// the central-queue fallback path exclusively.
func TestCentralQueueOverflow(t *testing.T) {
	p := newTestPool(t, 2)
	const n = 5000 // several times WorkerCapacity()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		if err := p.Schedule(func() { wg.Done() }); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}
	wg.Wait()
}

func TestScheduleAfterClose(t *testing.T) {
	p, err := New(WithWorkers(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := p.Schedule(func() {}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := p.ScheduleAfter(time.Millisecond, func() {}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWorkerCapacityExposed(t *testing.T) {
	if WorkerCapacity() <= 0 {
		t.Fatal("expected a positive worker capacity")
	}
	p := newTestPool(t, 2)
	if p.WorkerCapacity() != WorkerCapacity() {
		t.Errorf("expected pool capacity to match package-level capacity")
	}
}
