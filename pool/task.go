package pool

// Task is a type-erased, move-only, callable-once unit of work returning
// nothing. A Go closure already satisfies every property the envelope
// needs: it is type-erased at the call site, it releases its captured
// state once nothing references it any longer, and nothing about it
// prevents being invoked more than once — the scheduler's own contract is
// what limits a Task to a single invocation, not the type itself. Only the
// scheduler invokes a Task; doing so is what consumes it.
type Task func()
