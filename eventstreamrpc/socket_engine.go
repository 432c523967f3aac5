package eventstreamrpc

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/Thejuampi/eventstreamrpc-go/eventstreamrpc/internal/eventloop"
)

// SocketEngineOptions sizes a SocketEngine.
type SocketEngineOptions struct {
	// EventLoops is the number of loops connections are spread over.
	EventLoops int
	// DialWorkers bounds the number of connects in progress at once.
	DialWorkers int
}

// SocketEngine is the ChannelEngine that dials real sockets. Each
// connection is pinned to one event loop, which delivers all of its
// callbacks in order.
type SocketEngine struct {
	loops     *eventloop.Group
	dialers   *ants.PoolWithFunc
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       *logrus.Entry
}

const dialPoolReleaseTimeout = 5 * time.Second

type dialRequest struct {
	options   ConnectOptions
	callbacks ConnectionCallbacks
	loop      *eventloop.Loop
}

// NewSocketEngine starts the event loops and the dial pool.
func NewSocketEngine(options SocketEngineOptions) (*SocketEngine, error) {
	if options.EventLoops <= 0 {
		options.EventLoops = 1
	}
	if options.DialWorkers <= 0 {
		options.DialWorkers = 16
	}

	log := defaultLog().WithField("component", "socket_engine")
	engine := &SocketEngine{log: log}
	engine.ctx, engine.cancel = context.WithCancel(context.Background())

	pool, err := ants.NewPoolWithFunc(options.DialWorkers, func(args any) {
		request, ok := args.(*dialRequest)
		if !ok {
			log.Error("dial pool args type error")
			return
		}
		engine.dial(request)
	}, ants.WithNonblocking(true), ants.WithPanicHandler(func(recovered any) {
		log.WithField("panic", recovered).Error("dial worker panicked")
	}))
	if err != nil {
		engine.cancel()
		return nil, err
	}
	engine.dialers = pool
	engine.loops = eventloop.NewGroup(options.EventLoops, log)
	return engine, nil
}

var (
	defaultEngineOnce sync.Once
	defaultEngine     *SocketEngine
)

// DefaultEngine returns the process wide SocketEngine used when a
// ConnectionConfig does not name an engine.
func DefaultEngine() ChannelEngine {
	defaultEngineOnce.Do(func() {
		engine, err := NewSocketEngine(SocketEngineOptions{EventLoops: 1})
		if err != nil {
			defaultLog().WithError(err).Fatal("failed to start the default socket engine")
		}
		defaultEngine = engine
	})
	return defaultEngine
}

// Connect queues a dial. OnSetup reports its outcome on the chosen loop.
// Connect never waits for a dial worker: with every worker busy it fails
// with EngineErrorSocketError.
func (engine *SocketEngine) Connect(options ConnectOptions, callbacks ConnectionCallbacks) error {
	if options.HostName == "" {
		return NewEngineError(EngineErrorInvalidArgument, "connect", errors.New("host name is required"))
	}
	if callbacks.OnSetup == nil || callbacks.OnShutdown == nil {
		return NewEngineError(EngineErrorInvalidArgument, "connect", errors.New("setup and shutdown callbacks are required"))
	}
	if engine.ctx.Err() != nil {
		return NewEngineError(EngineErrorConnectionClosed, "connect", engine.ctx.Err())
	}

	request := &dialRequest{options: options, callbacks: callbacks, loop: engine.loops.Next()}
	if err := engine.dialers.Invoke(request); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			return NewEngineError(EngineErrorSocketError, "connect", err)
		}
		return NewEngineError(EngineErrorUnknown, "connect", err)
	}
	return nil
}

func (engine *SocketEngine) dial(request *dialRequest) {
	transport, err := dialTransport(engine.ctx, request.options)
	if err != nil {
		code := engineErrorCode(err)
		engine.log.WithError(err).WithField("host", request.options.HostName).Debug("dial failed")
		engine.failSetup(request, code)
		return
	}

	connection := newSocketConnection(transport, request.loop, request.callbacks, engine.log)
	if !request.loop.Schedule(func() { request.callbacks.OnSetup(connection, EngineErrorNone) }) {
		_ = transport.Close()
		engine.failSetup(request, EngineErrorConnectionClosed)
		return
	}
	go connection.readRoutine()
	go connection.writeRoutine()
}

// failSetup reports a failed dial on the request's loop, or inline once the
// loop has stopped.
func (engine *SocketEngine) failSetup(request *dialRequest, code int) {
	if !request.loop.Schedule(func() { request.callbacks.OnSetup(nil, code) }) {
		request.callbacks.OnSetup(nil, code)
	}
}

// Close stops accepting connects and stops the event loops after they
// drained. Connections still open are not closed.
func (engine *SocketEngine) Close() {
	engine.closeOnce.Do(func() {
		engine.cancel()
		if err := engine.dialers.ReleaseTimeout(dialPoolReleaseTimeout); err != nil {
			engine.log.WithError(err).Warn("dial pool did not drain")
		}
		engine.loops.Stop()
	})
}

type outboundFrame struct {
	frame   Frame
	onFlush func(errorCode int)
}

// socketConnection is the NativeConnection of a SocketEngine. The engine
// holds one reference until OnShutdown has been delivered.
type socketConnection struct {
	transport frameTransport
	loop      *eventloop.Loop
	callbacks ConnectionCallbacks
	log       *logrus.Entry

	refs atomic.Int32

	lock         sync.Mutex
	closing      bool
	closeCode    int
	nextStreamID int32
	streams      map[*socketContinuation]struct{}
	byID         map[int32]*socketContinuation
	queue        []outboundFrame

	wake        chan struct{}
	stopWriting chan struct{}
	writerDone  chan struct{}
	finishOnce  sync.Once
}

func newSocketConnection(transport frameTransport, loop *eventloop.Loop, callbacks ConnectionCallbacks, log *logrus.Entry) *socketConnection {
	connection := &socketConnection{
		transport:    transport,
		loop:         loop,
		callbacks:    callbacks,
		log:          log.WithField("remote", transport.RemoteAddr()),
		nextStreamID: 1,
		streams:      make(map[*socketContinuation]struct{}),
		byID:         make(map[int32]*socketContinuation),
		wake:         make(chan struct{}, 1),
		stopWriting:  make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	connection.refs.Store(1)
	return connection
}

func (connection *socketConnection) Acquire() { connection.refs.Add(1) }

func (connection *socketConnection) Release() {
	if remaining := connection.refs.Add(-1); remaining < 0 {
		panic("eventstreamrpc: socket connection released too many times")
	}
}

func (connection *socketConnection) EventLoop() EventLoop { return connection.loop }

// post runs task on the connection's loop, or inline once the loop exited.
func (connection *socketConnection) post(task func()) {
	if !connection.loop.Schedule(task) {
		task()
	}
}

func (connection *socketConnection) Close(errorCode int) {
	connection.lock.Lock()
	if connection.closing {
		connection.lock.Unlock()
		return
	}
	connection.closing = true
	connection.closeCode = errorCode
	connection.lock.Unlock()

	if err := connection.transport.Close(); err != nil {
		connection.log.WithError(err).Debug("transport close failed")
	}
}

func (connection *socketConnection) SendProtocolMessage(message MessageArgs, onFlush func(errorCode int)) error {
	return connection.enqueue(Frame{MessageArgs: message}, onFlush)
}

func (connection *socketConnection) enqueue(frame Frame, onFlush func(errorCode int)) error {
	connection.lock.Lock()
	if connection.closing {
		connection.lock.Unlock()
		return NewEngineError(EngineErrorConnectionClosed, "send")
	}
	connection.queue = append(connection.queue, outboundFrame{frame: frame, onFlush: onFlush})
	connection.lock.Unlock()

	select {
	case connection.wake <- struct{}{}:
	default:
	}
	return nil
}

func (connection *socketConnection) NewStream(callbacks ContinuationCallbacks) (NativeContinuation, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.closing {
		return nil, NewEngineError(EngineErrorConnectionClosed, "new stream")
	}
	stream := &socketContinuation{connection: connection, callbacks: callbacks}
	stream.refs.Store(1)
	connection.streams[stream] = struct{}{}
	return stream, nil
}

// registerStream assigns the next stream id to stream.
func (connection *socketConnection) registerStream(stream *socketContinuation) (int32, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.closing {
		return 0, NewEngineError(EngineErrorConnectionClosed, "activate")
	}
	if connection.nextStreamID == math.MaxInt32 {
		return 0, NewEngineError(EngineErrorInvalidArgument, "activate", errors.New("stream ids exhausted"))
	}
	id := connection.nextStreamID
	connection.nextStreamID++
	connection.byID[id] = stream
	return id, nil
}

func (connection *socketConnection) forgetStream(stream *socketContinuation, id int32) {
	connection.lock.Lock()
	delete(connection.streams, stream)
	if id != 0 && connection.byID[id] == stream {
		delete(connection.byID, id)
	}
	connection.lock.Unlock()
}

func (connection *socketConnection) writeRoutine() {
	defer close(connection.writerDone)
	for {
		select {
		case <-connection.wake:
		case <-connection.stopWriting:
			connection.failQueued()
			return
		}

		connection.lock.Lock()
		batch := connection.queue
		connection.queue = nil
		connection.lock.Unlock()

		for index, item := range batch {
			if err := connection.transport.WriteFrame(item.frame); err != nil {
				connection.log.WithError(err).Error("write failed")
				connection.flushed(item, EngineErrorSocketError)
				for _, rest := range batch[index+1:] {
					connection.flushed(rest, EngineErrorConnectionClosed)
				}
				connection.Close(EngineErrorSocketError)
				break
			}
			connection.flushed(item, EngineErrorNone)
		}
	}
}

func (connection *socketConnection) flushed(item outboundFrame, errorCode int) {
	if item.onFlush == nil {
		return
	}
	connection.post(func() { item.onFlush(errorCode) })
}

func (connection *socketConnection) failQueued() {
	connection.lock.Lock()
	batch := connection.queue
	connection.queue = nil
	connection.lock.Unlock()
	for _, item := range batch {
		connection.flushed(item, EngineErrorConnectionClosed)
	}
}

func (connection *socketConnection) readRoutine() {
	for {
		frame, err := connection.transport.ReadFrame()
		if err != nil {
			connection.finish(readErrorCode(err))
			return
		}
		connection.post(func() { connection.dispatch(frame) })
	}
}

func (connection *socketConnection) dispatch(frame Frame) {
	if frame.StreamID == 0 {
		if connection.callbacks.OnProtocolMessage != nil {
			connection.callbacks.OnProtocolMessage(connection, frame.MessageArgs)
		}
		return
	}

	connection.lock.Lock()
	stream := connection.byID[frame.StreamID]
	connection.lock.Unlock()
	if stream == nil {
		connection.log.WithField("stream_id", frame.StreamID).Debug("dropping message for unknown stream")
		return
	}
	stream.deliver(frame.MessageArgs)
}

// finish tears the connection down once the read loop ended: pending
// writes fail, every stream closes, then OnShutdown fires.
func (connection *socketConnection) finish(readCode int) {
	connection.finishOnce.Do(func() {
		connection.lock.Lock()
		code := readCode
		if connection.closing {
			code = connection.closeCode
		}
		connection.closing = true
		connection.lock.Unlock()

		_ = connection.transport.Close()
		close(connection.stopWriting)
		<-connection.writerDone

		connection.post(func() {
			connection.lock.Lock()
			streams := make([]*socketContinuation, 0, len(connection.streams))
			for stream := range connection.streams {
				streams = append(streams, stream)
			}
			connection.lock.Unlock()

			for _, stream := range streams {
				stream.markClosed()
			}
			connection.log.WithField("error", EngineErrorName(code)).Debug("connection shut down")
			connection.callbacks.OnShutdown(connection, code)
			connection.Release()
		})
	})
}

// socketContinuation is the NativeContinuation of a socketConnection.
type socketContinuation struct {
	connection *socketConnection
	callbacks  ContinuationCallbacks
	refs       atomic.Int32

	lock       sync.Mutex
	streamID   int32
	activated  bool
	closed     bool
	terminated bool
}

func (stream *socketContinuation) Acquire() { stream.refs.Add(1) }

func (stream *socketContinuation) Release() {
	remaining := stream.refs.Add(-1)
	if remaining < 0 {
		panic("eventstreamrpc: socket continuation released too many times")
	}
	if remaining > 0 {
		return
	}
	stream.connection.post(func() {
		stream.lock.Lock()
		if stream.terminated {
			stream.lock.Unlock()
			return
		}
		stream.terminated = true
		id := stream.streamID
		stream.lock.Unlock()

		stream.connection.forgetStream(stream, id)
		if stream.callbacks.OnTerminated != nil {
			stream.callbacks.OnTerminated()
		}
	})
}

func (stream *socketContinuation) Activate(operationName string, message MessageArgs, onFlush func(errorCode int)) error {
	stream.lock.Lock()
	if stream.closed {
		stream.lock.Unlock()
		return NewEngineError(EngineErrorStreamClosed, "activate")
	}
	if stream.activated {
		stream.lock.Unlock()
		return NewEngineError(EngineErrorStreamAlreadyActivated, "activate")
	}
	id, err := stream.connection.registerStream(stream)
	if err != nil {
		stream.lock.Unlock()
		return err
	}
	stream.activated = true
	stream.streamID = id
	stream.lock.Unlock()

	frame := Frame{MessageArgs: message, StreamID: id, Operation: operationName}
	if err := stream.connection.enqueue(frame, stream.flushCallback(message, onFlush)); err != nil {
		stream.lock.Lock()
		stream.activated = false
		stream.streamID = 0
		stream.lock.Unlock()
		stream.connection.lock.Lock()
		delete(stream.connection.byID, id)
		stream.connection.lock.Unlock()
		return err
	}
	return nil
}

func (stream *socketContinuation) SendMessage(message MessageArgs, onFlush func(errorCode int)) error {
	stream.lock.Lock()
	if !stream.activated {
		stream.lock.Unlock()
		return NewEngineError(EngineErrorStreamNotActivated, "send")
	}
	if stream.closed {
		stream.lock.Unlock()
		return NewEngineError(EngineErrorStreamClosed, "send")
	}
	id := stream.streamID
	stream.lock.Unlock()

	return stream.connection.enqueue(Frame{MessageArgs: message, StreamID: id}, stream.flushCallback(message, onFlush))
}

// flushCallback closes the stream locally once a terminate frame is on the wire.
func (stream *socketContinuation) flushCallback(message MessageArgs, onFlush func(errorCode int)) func(errorCode int) {
	terminate := message.terminatesStream()
	return func(errorCode int) {
		if onFlush != nil {
			onFlush(errorCode)
		}
		if terminate && errorCode == EngineErrorNone {
			stream.markClosed()
		}
	}
}

func (stream *socketContinuation) IsClosed() bool {
	stream.lock.Lock()
	defer stream.lock.Unlock()
	return stream.closed
}

// deliver runs on the loop for each inbound frame of this stream.
func (stream *socketContinuation) deliver(message MessageArgs) {
	if stream.callbacks.OnMessage != nil {
		stream.callbacks.OnMessage(message)
	}
	if message.terminatesStream() {
		stream.markClosed()
	}
}

// markClosed runs on the loop and fires OnClosed at most once.
func (stream *socketContinuation) markClosed() {
	stream.lock.Lock()
	if stream.closed {
		stream.lock.Unlock()
		return
	}
	stream.closed = true
	id := stream.streamID
	stream.lock.Unlock()

	stream.connection.lock.Lock()
	if id != 0 && stream.connection.byID[id] == stream {
		delete(stream.connection.byID, id)
	}
	stream.connection.lock.Unlock()

	if stream.callbacks.OnClosed != nil {
		stream.callbacks.OnClosed()
	}
}
