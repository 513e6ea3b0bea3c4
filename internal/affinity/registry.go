// Package affinity answers one question: is the calling goroutine one of a
// pool's own workers? The scheduling API needs this to pick between its
// fast path (push straight into the calling worker's local queue) and its
// slow path (push to the central queue), and Go provides no goroutine-local
// storage to key off. The only portable way to identify the current
// goroutine without cgo is to parse the "goroutine N" prefix out of a
// runtime.Stack dump; this package does exactly that and keeps a registry
// from goroutine id to owner. Every Register, Unregister and Self call
// parses the calling goroutine's stack header again; the id is not cached.
package affinity

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Registry maps goroutine IDs to an opaque owner value (normally a *worker).
// It is safe for concurrent use.
type Registry[T any] struct {
	workers sync.Map // uint64 -> *T
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Register associates the current goroutine with owner. Call this once at
// the top of a worker's run loop, and Unregister via defer before it
// returns.
func (r *Registry[T]) Register(owner *T) {
	r.workers.Store(currentGoroutineID(), owner)
}

// Unregister removes the current goroutine's association, if any.
func (r *Registry[T]) Unregister() {
	r.workers.Delete(currentGoroutineID())
}

// Self returns the owner registered for the current goroutine, if it is
// registered. A non-worker goroutine (anything outside the pool) is never
// registered and always gets (nil, false) here.
func (r *Registry[T]) Self() (*T, bool) {
	v, ok := r.workers.Load(currentGoroutineID())
	if !ok {
		return nil, false
	}
	return v.(*T), true
}

// currentGoroutineID parses the numeric goroutine id out of the calling
// goroutine's own stack trace header, which always begins with
// "goroutine <id> [<state>]:". This is the documented, if informal, way to
// obtain a goroutine identity without cgo or linkname tricks.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	b = bytes.TrimPrefix(b, []byte(prefix))

	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}

	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
