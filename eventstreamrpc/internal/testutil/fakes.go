package testutil

import (
	"sync"
	"time"
)

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Value returns the current counter value.
func (counter *Counter) Value() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	return counter.value
}

// Recorder collects values delivered from callbacks on other goroutines.
type Recorder[T any] struct {
	lock   sync.Mutex
	values []T
	signal chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{signal: make(chan struct{}, 1)}
}

// Record appends a value.
func (recorder *Recorder[T]) Record(value T) {
	recorder.lock.Lock()
	recorder.values = append(recorder.values, value)
	recorder.lock.Unlock()
	select {
	case recorder.signal <- struct{}{}:
	default:
	}
}

// Values returns a copy of everything recorded so far.
func (recorder *Recorder[T]) Values() []T {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]T(nil), recorder.values...)
}

// Len returns the number of recorded values.
func (recorder *Recorder[T]) Len() int {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return len(recorder.values)
}

// WaitLen blocks until at least count values were recorded or timeout passes.
func (recorder *Recorder[T]) WaitLen(count int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if recorder.Len() >= count {
			return true
		}
		select {
		case <-recorder.signal:
		case <-deadline.C:
			return recorder.Len() >= count
		}
	}
}

// Eventually polls condition until it holds or timeout passes.
func Eventually(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return condition()
}
