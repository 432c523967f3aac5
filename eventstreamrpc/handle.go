package eventstreamrpc

import "sync"

// refCounted is implemented by native handles.
type refCounted interface {
	Acquire()
	Release()
}

// scopedHandle holds one reference to a native handle for the duration of a
// call. Release is idempotent, so it can be deferred on every path.
type scopedHandle[T refCounted] struct {
	value    T
	acquired bool
}

// acquireScoped takes a reference to value unless it is absent.
func acquireScoped[T refCounted](value T, present bool) *scopedHandle[T] {
	handle := &scopedHandle[T]{}
	if !present {
		return handle
	}
	value.Acquire()
	handle.value = value
	handle.acquired = true
	return handle
}

// Valid reports whether the handle holds a reference.
func (handle *scopedHandle[T]) Valid() bool { return handle != nil && handle.acquired }

// Get returns the referenced value.
func (handle *scopedHandle[T]) Get() T { return handle.value }

// Release drops the reference taken by acquireScoped.
func (handle *scopedHandle[T]) Release() {
	if handle == nil || !handle.acquired {
		return
	}
	handle.acquired = false
	handle.value.Release()
}

// ownedHandle is the long-lived reference an impl keeps on its native handle.
// The owner's reference is dropped exactly once, from whichever path gets
// there first.
type ownedHandle[T refCounted] struct {
	lock     sync.Mutex
	value    T
	present  bool
	released bool
}

func newOwnedHandle[T refCounted](value T) *ownedHandle[T] {
	return &ownedHandle[T]{value: value, present: true}
}

// Scoped takes an extra reference for an out-of-lock native call.
func (owned *ownedHandle[T]) Scoped() *scopedHandle[T] {
	if owned == nil {
		return &scopedHandle[T]{}
	}
	owned.lock.Lock()
	defer owned.lock.Unlock()
	return acquireScoped(owned.value, owned.present && !owned.released)
}

// Release drops the owner's reference. It reports whether this call did so.
func (owned *ownedHandle[T]) Release() bool {
	if owned == nil {
		return false
	}
	owned.lock.Lock()
	if !owned.present || owned.released {
		owned.lock.Unlock()
		return false
	}
	owned.released = true
	value := owned.value
	owned.lock.Unlock()

	value.Release()
	return true
}

// inFlight counts outstanding native activity for one impl. Once the owner
// has shut down and the count drops to zero, Idle is closed.
type inFlight struct {
	lock     sync.Mutex
	count    int
	shutdown bool
	idle     chan struct{}
	closed   bool
}

func newInFlight() *inFlight {
	return &inFlight{idle: make(chan struct{})}
}

// begin records one more outstanding operation.
func (activity *inFlight) begin() {
	activity.lock.Lock()
	activity.count++
	activity.lock.Unlock()
}

// end records the completion of one operation.
func (activity *inFlight) end() {
	activity.lock.Lock()
	if activity.count == 0 {
		activity.lock.Unlock()
		panic("eventstreamrpc: in-flight count underflow")
	}
	activity.count--
	activity.closeIfIdleLocked()
	activity.lock.Unlock()
}

// markShutdown records that the owner no longer holds the impl.
func (activity *inFlight) markShutdown() {
	activity.lock.Lock()
	activity.shutdown = true
	activity.closeIfIdleLocked()
	activity.lock.Unlock()
}

// Count returns the number of outstanding operations.
func (activity *inFlight) Count() int {
	activity.lock.Lock()
	defer activity.lock.Unlock()
	return activity.count
}

// Idle is closed once the owner shut down and no activity remains.
func (activity *inFlight) Idle() <-chan struct{} {
	return activity.idle
}

func (activity *inFlight) closeIfIdleLocked() {
	if activity.shutdown && activity.count == 0 && !activity.closed {
		activity.closed = true
		close(activity.idle)
	}
}

// endOnLoop drops the count from a task on loop, so the final release never
// runs inside the callback that triggered it. Without a loop it ends inline.
func (activity *inFlight) endOnLoop(loop EventLoop) {
	if loop == nil || !loop.Schedule(activity.end) {
		activity.end()
	}
}
