package eventstreamrpc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeCompletesOnce(t *testing.T) {
	var calls atomic.Int32
	outcome := NewOutcome(func(RpcError) { calls.Add(1) })
	future := outcome.Future()

	_, ok := future.TryGet()
	assert.False(t, ok)

	var wg sync.WaitGroup
	var winners atomic.Int32
	for index := 0; index < 32; index++ {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			if outcome.Complete(crtError(code)) {
				winners.Add(1)
			}
		}(EngineErrorUnknown + index)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, outcome.Completed())

	first := future.Wait()
	again, ok := future.TryGet()
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestOutcomeCallbackRunsAfterWaitersRelease(t *testing.T) {
	var future *Future[int]
	seen := make(chan bool, 1)
	outcome := NewOutcome(func(int) {
		_, ok := future.TryGet()
		seen <- ok
	})
	future = outcome.Future()

	outcome.Complete(7)
	assert.True(t, <-seen, "the future is resolved before the callback runs")
}

func TestFutureGetHonorsContext(t *testing.T) {
	outcome := NewOutcome[RpcError](nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := outcome.Future().Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go outcome.Complete(rpcStatus(StatusConnectionClosed))
	result, err := outcome.Future().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusConnectionClosed, result.StatusCode)
}

func TestFlushResult(t *testing.T) {
	assert.Equal(t, RpcError{}, flushResult(EngineErrorNone))
	assert.Equal(t, crtError(EngineErrorSocketError), flushResult(EngineErrorSocketError))

	var got RpcError
	outcome := newFlushOutcome(func(err RpcError) { got = err })
	outcome.Complete(flushResult(EngineErrorEncode))
	assert.Equal(t, crtError(EngineErrorEncode), got)
}

type countingRef struct {
	refs atomic.Int32
}

func (ref *countingRef) Acquire() { ref.refs.Add(1) }
func (ref *countingRef) Release() { ref.refs.Add(-1) }

func TestScopedHandleReleaseIsIdempotent(t *testing.T) {
	ref := &countingRef{}
	ref.refs.Store(1)

	owned := newOwnedHandle[*countingRef](ref)
	scoped := owned.Scoped()
	require.True(t, scoped.Valid())
	assert.Equal(t, int32(2), ref.refs.Load())

	scoped.Release()
	scoped.Release()
	assert.Equal(t, int32(1), ref.refs.Load())

	assert.True(t, owned.Release())
	assert.False(t, owned.Release())
	assert.Equal(t, int32(0), ref.refs.Load())
	assert.False(t, owned.Scoped().Valid(), "no scoped reference after the owner released")

	var missing *ownedHandle[*countingRef]
	assert.False(t, missing.Scoped().Valid())
	assert.False(t, missing.Release())
}

func TestInFlightIdle(t *testing.T) {
	activity := newInFlight()
	activity.begin()
	activity.markShutdown()

	select {
	case <-activity.Idle():
		t.Fatalf("idle while work is outstanding")
	default:
	}

	loop := &manualLoop{}
	activity.endOnLoop(loop)
	assert.Equal(t, 1, activity.Count(), "the decrement waits for the loop")
	loop.runAll()
	<-activity.Idle()

	assert.Panics(t, activity.end)
}
