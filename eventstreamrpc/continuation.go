package eventstreamrpc

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/Thejuampi/eventstreamrpc-go/eventstreamrpc/internal/eventloop"
)

type continuationState int

const (
	continuationNone continuationState = iota
	continuationPendingActivate
	continuationActivated
	continuationPendingClose
	continuationClosed
)

func (state continuationState) String() string {
	switch state {
	case continuationNone:
		return "None"
	case continuationPendingActivate:
		return "PendingActivate"
	case continuationActivated:
		return "Activated"
	case continuationPendingClose:
		return "PendingClose"
	case continuationClosed:
		return "Closed"
	}
	return "Unknown"
}

// clientContinuationImpl is one logical stream multiplexed over a connection.
//
// State lives under lock. The stream handler lives under handlerLock, which
// every handler call holds, so once shutDown cleared it no hook runs. A
// shutDown issued from inside a hook is recognized through deliveringOn and
// clears the handler without taking the lock again.
type clientContinuationImpl struct {
	lock              sync.Mutex
	state             continuationState
	continuationValid bool
	activateCalled    bool
	closedNotified    bool
	terminated        bool
	native            *ownedHandle[NativeContinuation]
	pendingActivate   *Outcome[RpcError]
	pendingClose      *Outcome[RpcError]
	resultCallback    func(TaggedResult)

	handlerLock  sync.Mutex
	handler      StreamResponseHandler
	deliveringOn atomic.Uint64

	model    OperationModelContext
	loop     EventLoop
	activity *inFlight
	metrics  *Metrics
	log      *logrus.Entry
}

func newClientContinuationImpl(model OperationModelContext, handler StreamResponseHandler, metrics *Metrics, log *logrus.Entry) *clientContinuationImpl {
	impl := &clientContinuationImpl{
		state:    continuationNone,
		handler:  handler,
		model:    model,
		activity: newInFlight(),
		metrics:  metrics,
		log:      log,
	}
	return impl
}

// bind creates the native continuation on connection. Without one the
// continuation is closed from the start and reports connection-closed.
func (impl *clientContinuationImpl) bind(connection *scopedHandle[NativeConnection]) {
	var native NativeContinuation
	var loop EventLoop
	var err error
	if connection.Valid() {
		native, err = connection.Get().NewStream(ContinuationCallbacks{
			OnMessage:    impl.onMessage,
			OnClosed:     impl.onClosed,
			OnTerminated: impl.onTerminated,
		})
		loop = connection.Get().EventLoop()
		if err != nil {
			impl.log.WithError(err).Error("failed to create a native continuation")
		}
	}

	impl.lock.Lock()
	defer impl.lock.Unlock()
	if err != nil || native == nil {
		impl.state = continuationClosed
		return
	}
	impl.native = newOwnedHandle(native)
	impl.continuationValid = true
	impl.loop = loop
	impl.activity.begin()
}

// closedStatusLocked picks the error reported once the stream is unusable.
func (impl *clientContinuationImpl) closedStatusLocked() RpcError {
	if impl.continuationValid {
		return rpcStatus(StatusContinuationClosed)
	}
	return rpcStatus(StatusConnectionClosed)
}

func failedFlush(onFlush OnMessageFlushCallback, err RpcError) *Future[RpcError] {
	outcome := newFlushOutcome(onFlush)
	outcome.Complete(err)
	return outcome.Future()
}

func (impl *clientContinuationImpl) activate(
	operationName string,
	headers []Header,
	payload []byte,
	messageType MessageType,
	flags MessageFlags,
	onResult func(TaggedResult),
	onFlush OnMessageFlushCallback,
) *Future[RpcError] {
	impl.lock.Lock()
	switch impl.state {
	case continuationNone:
		if impl.activateCalled {
			impl.lock.Unlock()
			return failedFlush(onFlush, rpcStatus(StatusContinuationAlreadyOpened))
		}
	case continuationPendingActivate, continuationActivated:
		impl.lock.Unlock()
		return failedFlush(onFlush, rpcStatus(StatusContinuationAlreadyOpened))
	default:
		err := impl.closedStatusLocked()
		impl.lock.Unlock()
		return failedFlush(onFlush, err)
	}

	impl.state = continuationPendingActivate
	impl.activateCalled = true
	impl.resultCallback = onResult
	outcome := newFlushOutcome(onFlush)
	impl.pendingActivate = outcome
	handle := impl.native.Scoped()
	impl.lock.Unlock()
	defer handle.Release()

	message := MessageArgs{Headers: cloneHeaders(headers), Payload: payload, Type: messageType, Flags: flags}
	err := error(NewEngineError(EngineErrorStreamClosed, "activate"))
	if handle.Valid() {
		err = handle.Get().Activate(operationName, message, impl.flushHandler(outcome, false))
	}
	if err != nil {
		impl.lock.Lock()
		if impl.state == continuationPendingActivate {
			impl.state = continuationNone
			impl.resultCallback = nil
		}
		if impl.pendingActivate == outcome {
			impl.pendingActivate = nil
		}
		impl.lock.Unlock()

		impl.log.WithError(err).WithField(operationLoggerKey, operationName).Error("failed to activate stream")
		outcome.Complete(crtError(engineErrorCode(err)))
		return outcome.Future()
	}

	impl.metrics.streamOpened()
	impl.metrics.messageSent(messageType)
	return outcome.Future()
}

func (impl *clientContinuationImpl) sendStreamMessage(
	headers []Header,
	payload []byte,
	messageType MessageType,
	flags MessageFlags,
	onFlush OnMessageFlushCallback,
) *Future[RpcError] {
	impl.lock.Lock()
	switch impl.state {
	case continuationActivated:
	case continuationNone, continuationPendingActivate:
		impl.lock.Unlock()
		return failedFlush(onFlush, rpcStatus(StatusContinuationNotYetOpened))
	default:
		err := impl.closedStatusLocked()
		impl.lock.Unlock()
		return failedFlush(onFlush, err)
	}

	terminate := flags.Has(MessageFlagTerminateStream)
	if terminate {
		impl.state = continuationPendingClose
	}
	handle := impl.native.Scoped()
	impl.lock.Unlock()
	defer handle.Release()

	outcome := newFlushOutcome(onFlush)
	message := MessageArgs{Headers: cloneHeaders(headers), Payload: payload, Type: messageType, Flags: flags}
	err := error(NewEngineError(EngineErrorStreamClosed, "send stream message"))
	if handle.Valid() {
		err = handle.Get().SendMessage(message, func(errorCode int) {
			outcome.Complete(flushResult(errorCode))
		})
	}
	if err != nil {
		if terminate {
			impl.lock.Lock()
			if impl.state == continuationPendingClose {
				impl.state = continuationActivated
			}
			impl.lock.Unlock()
		}
		impl.log.WithError(err).Error("failed to send stream message")
		outcome.Complete(crtError(engineErrorCode(err)))
		return outcome.Future()
	}

	impl.metrics.messageSent(messageType)
	return outcome.Future()
}

func (impl *clientContinuationImpl) close(onFlush OnMessageFlushCallback) *Future[RpcError] {
	impl.lock.Lock()
	previous := impl.state
	switch previous {
	case continuationPendingActivate, continuationActivated:
	default:
		err := impl.closedStatusLocked()
		impl.lock.Unlock()
		return failedFlush(onFlush, err)
	}

	impl.state = continuationPendingClose
	outcome := newFlushOutcome(onFlush)
	impl.pendingClose = outcome
	handle := impl.native.Scoped()
	impl.lock.Unlock()
	defer handle.Release()

	message := MessageArgs{Type: MessageTypeApplicationMessage, Flags: MessageFlagTerminateStream}
	err := error(NewEngineError(EngineErrorStreamClosed, "close stream"))
	if handle.Valid() {
		err = handle.Get().SendMessage(message, impl.flushHandler(outcome, true))
	}
	if err != nil {
		impl.lock.Lock()
		if impl.state == continuationPendingClose {
			impl.state = previous
		}
		if impl.pendingClose == outcome {
			impl.pendingClose = nil
		}
		impl.lock.Unlock()

		impl.log.WithError(err).Error("A CRT error occurred while closing the stream")
		outcome.Complete(crtError(engineErrorCode(err)))
		return outcome.Future()
	}

	impl.metrics.messageSent(MessageTypeApplicationMessage)
	return outcome.Future()
}

// flushHandler completes a pending activation or close box from the native
// flush callback.
func (impl *clientContinuationImpl) flushHandler(outcome *Outcome[RpcError], closing bool) func(int) {
	return func(errorCode int) {
		impl.lock.Lock()
		if closing && impl.pendingClose == outcome {
			impl.pendingClose = nil
		}
		if !closing && impl.pendingActivate == outcome {
			impl.pendingActivate = nil
		}
		impl.lock.Unlock()

		outcome.Complete(flushResult(errorCode))
	}
}

// shutDown is the facade teardown path. It never waits for the network:
// anything still pending resolves with continuation-closed right away.
func (impl *clientContinuationImpl) shutDown() {
	impl.detachHandler()

	impl.lock.Lock()
	state := impl.state
	activate := impl.pendingActivate
	closing := impl.pendingClose
	resultCallback := impl.resultCallback
	impl.pendingActivate = nil
	impl.pendingClose = nil
	impl.resultCallback = nil
	release := false
	if state == continuationNone {
		impl.state = continuationClosed
		release = true
	}
	impl.lock.Unlock()

	closed := rpcStatus(StatusContinuationClosed)
	if activate != nil {
		activate.Complete(closed)
	}
	if closing != nil {
		closing.Complete(closed)
	}
	if resultCallback != nil {
		resultCallback(NewRPCErrorResult(closed))
	}

	switch {
	case release:
		impl.native.Release()
	case state == continuationPendingActivate || state == continuationActivated:
		impl.close(nil)
	}
	impl.activity.markShutdown()
}

// deliver calls hook with the stream handler while holding handlerLock.
// A delivery nested in another one on the same goroutine already holds it.
func (impl *clientContinuationImpl) deliver(hook func(StreamResponseHandler)) {
	self := eventloop.GoroutineID()
	if self != 0 && impl.deliveringOn.Load() == self {
		if impl.handler != nil {
			hook(impl.handler)
		}
		return
	}

	impl.handlerLock.Lock()
	defer impl.handlerLock.Unlock()
	if impl.handler == nil {
		return
	}
	impl.deliveringOn.Store(self)
	defer impl.deliveringOn.Store(0)
	hook(impl.handler)
}

// detachHandler clears the stream handler. Called from another goroutine it
// waits for a hook in progress to return.
func (impl *clientContinuationImpl) detachHandler() {
	if self := eventloop.GoroutineID(); self != 0 && impl.deliveringOn.Load() == self {
		impl.handler = nil
		return
	}
	impl.handlerLock.Lock()
	impl.handler = nil
	impl.handlerLock.Unlock()
}

func (impl *clientContinuationImpl) isClosed() bool {
	impl.lock.Lock()
	defer impl.lock.Unlock()
	return impl.state == continuationClosed
}

func (impl *clientContinuationImpl) currentState() continuationState {
	impl.lock.Lock()
	defer impl.lock.Unlock()
	return impl.state
}

// onMessage runs on the event loop for every inbound stream message.
func (impl *clientContinuationImpl) onMessage(message MessageArgs) {
	impl.metrics.messageReceived(message.Type)

	impl.lock.Lock()
	initial := impl.state == continuationPendingActivate
	var resultCallback func(TaggedResult)
	if initial {
		resultCallback = impl.resultCallback
		impl.resultCallback = nil
		if message.terminatesStream() {
			impl.state = continuationPendingClose
		} else {
			impl.state = continuationActivated
		}
	}
	model := impl.model
	impl.lock.Unlock()

	result := deserializeMessage(model, message, initial, impl.log)
	serverTerminated := message.terminatesStream()

	if initial {
		if resultCallback != nil {
			resultCallback(result)
		}
		if result.ResultType() == OperationErrorResult && !serverTerminated {
			impl.close(nil)
		}
		return
	}

	if result.ResultType() == OperationResponse {
		impl.deliver(func(handler StreamResponseHandler) {
			handler.OnStreamEvent(result.OperationResponse())
		})
		return
	}

	shouldClose := true
	impl.deliver(func(handler StreamResponseHandler) {
		shouldClose = handler.OnStreamError(result.OperationError(), result.RpcError())
	})
	if shouldClose && !serverTerminated {
		impl.close(nil)
	}
}

// onClosed runs on the event loop once the native stream is closed.
func (impl *clientContinuationImpl) onClosed() {
	impl.lock.Lock()
	impl.state = continuationClosed
	resultCallback := impl.resultCallback
	impl.resultCallback = nil
	notify := !impl.closedNotified
	impl.closedNotified = true
	impl.lock.Unlock()

	if resultCallback != nil {
		resultCallback(NewRPCErrorResult(rpcStatus(StatusContinuationClosed)))
	}
	if notify {
		impl.deliver(StreamResponseHandler.OnStreamClosed)
	}

	if impl.loop == nil || !impl.loop.Schedule(func() { impl.native.Release() }) {
		impl.native.Release()
	}
}

// onTerminated runs once the native stream released its last reference.
func (impl *clientContinuationImpl) onTerminated() {
	impl.lock.Lock()
	if impl.terminated {
		impl.lock.Unlock()
		panic("eventstreamrpc: continuation terminated twice")
	}
	impl.terminated = true
	impl.lock.Unlock()

	impl.activity.endOnLoop(impl.loop)
}

// ClientContinuation is a logical stream on a ClientConnection.
type ClientContinuation struct {
	impl     *clientContinuationImpl
	shutdown atomic.Bool
}

// Activate opens the stream with its first message. onResult receives the
// activation response exactly once; the returned future resolves when the
// message is flushed.
func (continuation *ClientContinuation) Activate(
	operationName string,
	headers []Header,
	payload []byte,
	messageType MessageType,
	flags MessageFlags,
	onResult func(TaggedResult),
	onFlush OnMessageFlushCallback,
) *Future[RpcError] {
	return continuation.impl.activate(operationName, headers, payload, messageType, flags, onResult, onFlush)
}

// SendStreamMessage sends a message on an activated stream.
func (continuation *ClientContinuation) SendStreamMessage(
	headers []Header,
	payload []byte,
	messageType MessageType,
	flags MessageFlags,
	onFlush OnMessageFlushCallback,
) *Future[RpcError] {
	return continuation.impl.sendStreamMessage(headers, payload, messageType, flags, onFlush)
}

// Close sends the terminate-stream message.
func (continuation *ClientContinuation) Close(onFlush OnMessageFlushCallback) *Future[RpcError] {
	return continuation.impl.close(onFlush)
}

// IsClosed reports whether the stream reached its terminal state.
func (continuation *ClientContinuation) IsClosed() bool {
	return continuation.impl.isClosed()
}

// ShutDown detaches the stream handler and releases the stream without
// waiting for the server. Called from another goroutine it waits for a
// handler callback in progress; it is safe to call from a handler callback.
func (continuation *ClientContinuation) ShutDown() {
	if continuation.shutdown.CompareAndSwap(false, true) {
		continuation.impl.shutDown()
	}
}

// Idle is closed once ShutDown was called and no native activity remains.
func (continuation *ClientContinuation) Idle() <-chan struct{} {
	return continuation.impl.activity.Idle()
}
