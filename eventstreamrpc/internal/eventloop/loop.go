// Package eventloop provides the single-goroutine task queues that deliver
// every native callback of a connection in order.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Loop runs scheduled tasks one at a time on its own goroutine.
//
// Tasks may schedule further tasks on the same loop; the queue is unbounded
// so a task never blocks on its own loop.
type Loop struct {
	lock    sync.Mutex
	pending []func()
	exited  bool
	wake    chan struct{}

	stopping atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  sync.Once

	executed atomic.Uint64
	log      *logrus.Entry
}

// New returns a stopped loop. Start must be called before tasks run.
func New(log *logrus.Entry) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}
}

// Start launches the loop goroutine. Calling it again is a no-op.
func (loop *Loop) Start() *Loop {
	loop.started.Do(func() {
		go loop.run()
	})
	return loop
}

// Schedule queues a task. It reports false once the loop has exited.
// Tasks queued while the loop is stopping still run.
func (loop *Loop) Schedule(task func()) bool {
	if loop == nil || task == nil {
		return false
	}

	loop.lock.Lock()
	if loop.exited {
		loop.lock.Unlock()
		return false
	}
	loop.pending = append(loop.pending, task)
	loop.lock.Unlock()

	select {
	case loop.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop runs whatever is queued, including tasks those tasks schedule, then
// exits. It does not wait; use Done for that.
func (loop *Loop) Stop() {
	if loop == nil {
		return
	}
	if loop.stopping.Swap(true) {
		return
	}
	loop.cancel()
	loop.Start()
}

// Done is closed after the loop goroutine has exited.
func (loop *Loop) Done() <-chan struct{} {
	return loop.done
}

// Executed returns the number of tasks run so far.
func (loop *Loop) Executed() uint64 {
	return loop.executed.Load()
}

func (loop *Loop) run() {
	defer close(loop.done)

	for {
		select {
		case <-loop.ctx.Done():
			loop.dealLeftTasks()
			return
		case <-loop.wake:
			loop.drain()
		}
	}
}

func (loop *Loop) drain() {
	for {
		loop.lock.Lock()
		if len(loop.pending) == 0 {
			loop.lock.Unlock()
			return
		}
		batch := loop.pending
		loop.pending = nil
		loop.lock.Unlock()

		for _, task := range batch {
			loop.execute(task)
		}
	}
}

// dealLeftTasks runs the remaining queue until it stays empty.
func (loop *Loop) dealLeftTasks() {
	loop.lock.Lock()
	left := len(loop.pending)
	loop.lock.Unlock()
	if left > 0 {
		loop.log.WithField("tasks", left).Debug("event loop stopping with queued tasks")
	}

	for {
		loop.drain()

		loop.lock.Lock()
		if len(loop.pending) == 0 {
			loop.exited = true
			loop.lock.Unlock()
			return
		}
		loop.lock.Unlock()
	}
}

func (loop *Loop) execute(task func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			loop.log.WithField("panic", recovered).Error("event loop task panicked")
		}
	}()
	task()
	loop.executed.Add(1)
}
