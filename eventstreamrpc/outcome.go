package eventstreamrpc

import (
	"context"
	"sync"
)

// OnMessageFlushCallback is invoked once an outgoing message has been written
// to the transport, or has failed to be.
type OnMessageFlushCallback func(err RpcError)

// Outcome is a sink that completes exactly once. Completing it resolves its
// Future and then invokes the optional callback, outside any lock.
type Outcome[T any] struct {
	lock      sync.Mutex
	completed bool
	value     T
	done      chan struct{}
	callback  func(T)
}

// NewOutcome returns an incomplete outcome. callback may be nil.
func NewOutcome[T any](callback func(T)) *Outcome[T] {
	return &Outcome[T]{done: make(chan struct{}), callback: callback}
}

// Complete stores value and notifies waiters. Only the first call has any
// effect; it reports whether this call completed the outcome.
func (outcome *Outcome[T]) Complete(value T) bool {
	outcome.lock.Lock()
	if outcome.completed {
		outcome.lock.Unlock()
		return false
	}
	outcome.completed = true
	outcome.value = value
	callback := outcome.callback
	outcome.callback = nil
	close(outcome.done)
	outcome.lock.Unlock()

	if callback != nil {
		callback(value)
	}
	return true
}

// Completed reports whether Complete has been called.
func (outcome *Outcome[T]) Completed() bool {
	outcome.lock.Lock()
	defer outcome.lock.Unlock()
	return outcome.completed
}

// Future returns the read side of the outcome.
func (outcome *Outcome[T]) Future() *Future[T] {
	return &Future[T]{outcome: outcome}
}

// Future is the read side of an Outcome.
type Future[T any] struct {
	outcome *Outcome[T]
}

// Done is closed once the value is available.
func (future *Future[T]) Done() <-chan struct{} {
	return future.outcome.done
}

// Get waits for the value or for ctx to end. A value that is already
// available is returned even when ctx is done.
func (future *Future[T]) Get(ctx context.Context) (T, error) {
	if value, ok := future.TryGet(); ok {
		return value, nil
	}
	select {
	case <-future.outcome.done:
		return future.outcome.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until the value is available.
func (future *Future[T]) Wait() T {
	<-future.outcome.done
	return future.outcome.value
}

// TryGet returns the value without blocking.
func (future *Future[T]) TryGet() (T, bool) {
	select {
	case <-future.outcome.done:
		return future.outcome.value, true
	default:
		var zero T
		return zero, false
	}
}

func resolvedFuture[T any](value T) *Future[T] {
	outcome := NewOutcome[T](nil)
	outcome.Complete(value)
	return outcome.Future()
}

// newFlushOutcome wraps a user flush callback in a complete-once sink.
func newFlushOutcome(onFlush OnMessageFlushCallback) *Outcome[RpcError] {
	if onFlush == nil {
		return NewOutcome[RpcError](nil)
	}
	return NewOutcome(func(err RpcError) { onFlush(err) })
}

// flushResult maps a native flush error code onto an RpcError.
func flushResult(errorCode int) RpcError {
	if errorCode == EngineErrorNone {
		return RpcError{}
	}
	return crtError(errorCode)
}
