// Package pool implements a fine-grained, in-process task scheduler: a
// fixed-size set of worker goroutines, each with its own bounded local
// work-stealing queue, backed by a shared central queue for external
// submissions and a shared timed-task heap for delayed work.
//
// # Basic usage
//
//	p, err := pool.New(pool.WithWorkers(4))
//	if err != nil {
//	    // handle construction failure
//	}
//	defer p.Close()
//
//	p.Schedule(func() {
//	    fmt.Println("hello from a worker")
//	})
//
// # Subtasks
//
// A task running inside the pool can spawn continuations that run before
// anything else already queued on that worker:
//
//	p.Schedule(func() {
//	    // ScheduleSubtask favors depth-first execution on this worker.
//	    p.ScheduleSubtask(func() {
//	        fmt.Println("next task this worker pops")
//	    })
//	})
//
// # Timed work
//
//	p.ScheduleAfter(50*time.Millisecond, func() {
//	    fmt.Println("fired after 50ms")
//	})
//
// # Lifecycle
//
// Halt blocks until every worker has parked; Resume starts them again.
// Close stops the pool permanently and discards any tasks that never got
// to run.
//
// # What this package does not do
//
// Tasks return nothing and cannot be canceled once scheduled; a task that
// blocks forever can starve or deadlock the pool, and the pool does not
// detect this.
package pool
