package eventloop

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Group hands out loops round-robin so connections spread across a fixed
// number of goroutines.
type Group struct {
	loops []*Loop
	next  atomic.Uint64
	once  sync.Once
}

// NewGroup starts size loops. A size below one is treated as one.
func NewGroup(size int, log *logrus.Entry) *Group {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	group := &Group{loops: make([]*Loop, size)}
	for index := range group.loops {
		group.loops[index] = New(log.WithField("loop", index)).Start()
	}
	return group
}

// Next returns the next loop in rotation.
func (group *Group) Next() *Loop {
	index := group.next.Add(1) - 1
	return group.loops[index%uint64(len(group.loops))]
}

// Size returns the number of loops.
func (group *Group) Size() int { return len(group.loops) }

// Stop stops every loop and waits for all of them to exit.
func (group *Group) Stop() {
	group.once.Do(func() {
		for _, loop := range group.loops {
			loop.Stop()
		}
		for _, loop := range group.loops {
			<-loop.Done()
		}
	})
}
