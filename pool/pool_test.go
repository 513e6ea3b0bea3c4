package pool

import (
	"testing"
	"time"
)

func TestNewRejectsNothingAndReturnsUsablePool(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer p.Close()

	if p.Concurrency() <= 0 {
		t.Fatal("expected a positive worker count with default options")
	}
}

func TestWithWorkersOption(t *testing.T) {
	p, err := New(WithWorkers(3))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer p.Close()

	if got := p.Concurrency(); got != 3 {
		t.Errorf("expected 3 workers, got %d", got)
	}
}

func TestWithWorkersNonPositiveFallsBackToDefault(t *testing.T) {
	p, err := New(WithWorkers(-1))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer p.Close()

	if p.Concurrency() <= 0 {
		t.Fatal("expected non-positive WithWorkers to fall back to a positive default")
	}
}

// TestTaskPanicIsFatal verifies a panicking task triggers the pool's
// documented fatal-exit path rather than being swallowed or propagated to
// an unrelated caller. fatalExit is swapped for a non-terminating stand-in
// for the duration of the test.
func TestTaskPanicIsFatal(t *testing.T) {
	called := make(chan any, 1)
	orig := fatalExit
	fatalExit = func() { called <- struct{}{} }
	defer func() { fatalExit = orig }()

	p := newTestPool(t, 1)
	if err := p.Schedule(func() {
		panic("boom")
	}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("expected fatalExit to be invoked after a task panic")
	}
}

// TestPoolSurvivesAfterRecoveredPanicOnOtherWorkers checks that a panic on
// one worker (with fatalExit stubbed out so the process does not actually
// exit) does not prevent other, unrelated tasks scheduled around the same
// time from completing.
func TestPoolSurvivesAfterRecoveredPanicOnOtherWorkers(t *testing.T) {
	orig := fatalExit
	fatalExit = func() {}
	defer func() { fatalExit = orig }()

	p := newTestPool(t, 4)

	done := make(chan struct{})
	if err := p.Schedule(func() { panic("boom") }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := p.Schedule(func() { close(done) }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected an unrelated task to still complete")
	}
}
