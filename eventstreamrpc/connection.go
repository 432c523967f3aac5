package eventstreamrpc

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type connectionState int

const (
	connectionDisconnected connectionState = iota
	connectionPendingConnect
	connectionPendingConnack
	connectionConnected
	connectionDisconnecting
)

func (state connectionState) String() string {
	switch state {
	case connectionDisconnected:
		return "Disconnected"
	case connectionPendingConnect:
		return "PendingConnect"
	case connectionPendingConnack:
		return "PendingConnack"
	case connectionConnected:
		return "Connected"
	case connectionDisconnecting:
		return "Disconnecting"
	}
	return "Unknown"
}

// clientConnectionImpl owns the connection state machine.
//
// Every method follows the same shape: decide the transition and capture
// what must happen next while holding lock, then release it before touching
// the native connection or calling back into user code.
type clientConnectionImpl struct {
	lock            sync.Mutex
	currentState    connectionState
	desiredState    connectionState
	hasShutDown     bool
	opened          bool
	closeReason     RpcError
	closeReasonSet  bool
	underlying      *ownedHandle[NativeConnection]
	loop            EventLoop
	config          *ConnectionConfig
	handler         ConnectionLifecycleHandler
	callbackContext *connectionCallbackContext
	metrics         *Metrics

	activity  *inFlight
	streamSeq atomic.Uint64
	id        string
	log       *logrus.Entry
}

func newClientConnectionImpl() *clientConnectionImpl {
	log, id := newConnectionLog()
	return &clientConnectionImpl{
		currentState: connectionDisconnected,
		desiredState: connectionDisconnected,
		activity:     newInFlight(),
		id:           id,
		log:          log,
	}
}

func (impl *clientConnectionImpl) setCloseReasonLocked(reason RpcError) {
	if impl.closeReasonSet {
		return
	}
	impl.closeReason = reason
	impl.closeReasonSet = true
}

func (impl *clientConnectionImpl) connect(config *ConnectionConfig, handler ConnectionLifecycleHandler) *Future[RpcError] {
	if config == nil || handler == nil {
		impl.log.Error("Connect called without a config or a lifecycle handler")
		return resolvedFuture(rpcStatus(StatusNullParameter))
	}
	if config.HostName == "" || config.Port == nil {
		impl.log.Error("Connect called with a config that is missing its host name or port")
		return resolvedFuture(rpcStatus(StatusNullParameter))
	}

	impl.lock.Lock()
	if impl.hasShutDown {
		impl.lock.Unlock()
		return resolvedFuture(rpcStatus(StatusConnectionClosed))
	}
	if impl.currentState != connectionDisconnected {
		impl.lock.Unlock()
		impl.log.Warn("Connect called on a connection that is already established or in progress")
		return resolvedFuture(rpcStatus(StatusConnectionAlreadyEstablished))
	}

	snapshot := config.clone()
	impl.currentState = connectionPendingConnect
	impl.desiredState = connectionConnected
	impl.closeReason = RpcError{}
	impl.closeReasonSet = false
	impl.config = snapshot
	impl.handler = handler
	impl.metrics = snapshot.Metrics
	context := newConnectionCallbackContext(handler, snapshot.Metrics.connectResolved)
	impl.callbackContext = context
	future := context.connectFuture()
	impl.activity.begin()
	impl.lock.Unlock()

	engine := snapshot.Engine
	if engine == nil {
		engine = DefaultEngine()
	}

	impl.log.WithFields(logrus.Fields{"host": snapshot.HostName, "port": *snapshot.Port}).Debug("connecting")
	snapshot.Metrics.connectAttempted()
	err := engine.Connect(ConnectOptions{
		HostName:      snapshot.HostName,
		Port:          *snapshot.Port,
		SocketOptions: snapshot.SocketOptions,
		TLSConfig:     snapshot.TLSConfig,
	}, ConnectionCallbacks{
		OnSetup:           impl.onSetup,
		OnShutdown:        impl.onShutdown,
		OnProtocolMessage: impl.onProtocolMessage,
	})
	if err != nil {
		impl.lock.Lock()
		if impl.currentState == connectionPendingConnect {
			impl.currentState = connectionDisconnected
		}
		params := context.prepareConnectResult(RpcError{StatusCode: StatusConnectionSetupFailed, CrtError: engineErrorCode(err)})
		impl.lock.Unlock()

		impl.log.WithError(err).Error("failed to start connecting")
		context.invoke(params)
		impl.activity.end()
	}
	return future
}

// buildConnectMessageLocked assembles CONNECT: the version header first,
// then the amendment's headers and payload.
func (impl *clientConnectionImpl) buildConnectMessageLocked() MessageArgs {
	headers := []Header{NewStringHeader(EventStreamRPCVersionHeader, EventStreamRPCVersionString)}
	amendment := impl.config.ConnectAmendment
	headers = append(headers, cloneHeaders(amendment.Headers())...)

	var payload []byte
	if amendmentPayload := amendment.Payload(); amendmentPayload != nil {
		payload = append([]byte{}, amendmentPayload...)
	}
	return MessageArgs{Headers: headers, Payload: payload, Type: MessageTypeConnect}
}

// onSetup runs on the event loop when the native connect attempt resolved.
func (impl *clientConnectionImpl) onSetup(connection NativeConnection, errorCode int) {
	impl.lock.Lock()
	context := impl.callbackContext

	if errorCode != EngineErrorNone || connection == nil {
		if errorCode == EngineErrorNone {
			errorCode = EngineErrorUnknown
		}
		impl.currentState = connectionDisconnected
		params := context.prepareConnectResult(RpcError{StatusCode: StatusConnectionSetupFailed, CrtError: errorCode})
		impl.lock.Unlock()

		impl.log.WithField("error", EngineErrorName(errorCode)).Error("connection setup failed")
		context.invoke(params)
		// No native connection exists for this attempt, so there is nothing
		// left to release after the drop and it can end inline.
		impl.activity.end()
		return
	}

	connection.Acquire()
	impl.underlying = newOwnedHandle(connection)
	impl.loop = connection.EventLoop()

	if impl.desiredState != connectionConnected {
		impl.currentState = connectionDisconnecting
		impl.setCloseReasonLocked(rpcStatus(StatusConnectionClosed))
		handle := impl.underlying.Scoped()
		impl.lock.Unlock()

		impl.log.Debug("connection closed before the handshake started")
		handle.Get().Close(EngineErrorNone)
		handle.Release()
		return
	}

	impl.currentState = connectionPendingConnack
	message := impl.buildConnectMessageLocked()
	onConnectFlush := impl.config.ConnectRequestCallback
	metrics := impl.metrics
	handle := impl.underlying.Scoped()
	impl.lock.Unlock()

	err := handle.Get().SendProtocolMessage(message, func(flushCode int) {
		if onConnectFlush != nil {
			onConnectFlush(flushResult(flushCode))
		}
		if flushCode != EngineErrorNone {
			impl.failHandshake(crtError(flushCode))
		}
	})
	handle.Release()
	if err != nil {
		impl.log.WithError(err).Error("failed to send CONNECT")
		impl.failHandshake(crtError(engineErrorCode(err)))
		return
	}
	metrics.messageSent(MessageTypeConnect)
}

// failHandshake abandons a connection that is waiting for CONNECT_ACK. The
// connect future resolves with reason once the native shutdown completes,
// so a caller observing the failure finds the connection Disconnected.
func (impl *clientConnectionImpl) failHandshake(reason RpcError) {
	impl.lock.Lock()
	if impl.currentState != connectionPendingConnack {
		impl.lock.Unlock()
		return
	}
	impl.currentState = connectionDisconnecting
	impl.setCloseReasonLocked(reason)
	handle := impl.underlying.Scoped()
	impl.lock.Unlock()

	impl.log.WithField("reason", reason.String()).Error("connect handshake failed")
	if handle.Valid() {
		handle.Get().Close(reason.CrtError)
		handle.Release()
	}
}

// onProtocolMessage runs on the event loop for connection-level messages.
func (impl *clientConnectionImpl) onProtocolMessage(_ NativeConnection, message MessageArgs) {
	impl.lock.Lock()
	metrics := impl.metrics
	impl.lock.Unlock()
	metrics.messageReceived(message.Type)

	switch message.Type {
	case MessageTypeConnectAck:
		impl.onConnectAck(message)
	case MessageTypePing:
		if handler := impl.activeHandler(); handler != nil {
			handler.OnPing(message.Headers, message.Payload)
		}
	case MessageTypePingResponse:
	case MessageTypeProtocolError, MessageTypeInternalError:
		impl.lock.Lock()
		handshaking := impl.currentState == connectionPendingConnack
		impl.lock.Unlock()
		if handshaking {
			impl.failHandshake(crtError(EngineErrorProtocol))
			return
		}
		impl.log.WithField("type", message.Type.String()).Error("received a protocol error from the server")
		impl.reportError(crtError(EngineErrorProtocol))
	default:
		impl.log.WithField("type", message.Type.String()).Error("received an unknown protocol message")
		impl.reportError(rpcStatus(StatusUnknownProtocolMessage))
	}
}

func (impl *clientConnectionImpl) onConnectAck(message MessageArgs) {
	impl.lock.Lock()
	if impl.currentState != connectionPendingConnack {
		impl.lock.Unlock()
		impl.log.Error("received CONNECT_ACK outside of the handshake")
		impl.reportError(rpcStatus(StatusUnknownProtocolMessage))
		return
	}

	if !message.Flags.Has(MessageFlagConnectionAccepted) {
		impl.lock.Unlock()
		impl.log.Error("connection was not accepted by the server")
		impl.failHandshake(rpcStatus(StatusConnectionAccessDenied))
		return
	}

	context := impl.callbackContext

	impl.currentState = connectionConnected
	impl.opened = true
	metrics := impl.metrics
	params := context.prepareConnectSuccess()
	impl.lock.Unlock()

	impl.log.Debug("connection established")
	metrics.connectionOpened()
	context.invoke(params)
}

// activeHandler returns the lifecycle handler unless Shutdown silenced it.
func (impl *clientConnectionImpl) activeHandler() ConnectionLifecycleHandler {
	impl.lock.Lock()
	defer impl.lock.Unlock()
	if impl.hasShutDown {
		return nil
	}
	return impl.handler
}

// reportError hands err to OnError and closes when the handler asks to.
func (impl *clientConnectionImpl) reportError(err RpcError) {
	handler := impl.activeHandler()
	if handler == nil {
		return
	}
	if handler.OnError(err) {
		impl.closeWithReason(err)
	}
}

// onShutdown runs on the event loop once the native connection is gone.
func (impl *clientConnectionImpl) onShutdown(_ NativeConnection, errorCode int) {
	impl.lock.Lock()
	impl.currentState = connectionDisconnected
	wasOpen := impl.opened
	impl.opened = false

	connectErr := rpcStatus(StatusConnectionClosed)
	if errorCode != EngineErrorNone {
		connectErr = crtError(errorCode)
	}
	if impl.closeReasonSet {
		connectErr = impl.closeReason
	}
	disconnectErr := RpcError{}
	if errorCode != EngineErrorNone {
		disconnectErr = crtError(errorCode)
	}

	context := impl.callbackContext
	params := context.prepareDisconnect(connectErr, disconnectErr)
	underlying := impl.underlying
	impl.underlying = nil
	loop := impl.loop
	metrics := impl.metrics
	impl.lock.Unlock()

	impl.log.WithField("error", EngineErrorName(errorCode)).Debug("connection shut down")
	if wasOpen {
		metrics.connectionClosed()
	}
	context.invoke(params)

	if loop == nil || !loop.Schedule(func() { underlying.Release() }) {
		underlying.Release()
	}
	impl.activity.endOnLoop(loop)
}

func (impl *clientConnectionImpl) close() {
	impl.closeWithReason(rpcStatus(StatusConnectionClosed))
}

func (impl *clientConnectionImpl) closeWithReason(reason RpcError) {
	impl.lock.Lock()
	impl.desiredState = connectionDisconnected
	switch impl.currentState {
	case connectionConnected, connectionPendingConnack:
	default:
		impl.lock.Unlock()
		return
	}
	impl.currentState = connectionDisconnecting
	impl.setCloseReasonLocked(reason)
	handle := impl.underlying.Scoped()
	impl.lock.Unlock()

	if handle.Valid() {
		handle.Get().Close(reason.CrtError)
		handle.Release()
	}
}

// shutdown is the facade teardown path: it closes like close, silences
// every later native callback, and runs the hook that is still owed now.
func (impl *clientConnectionImpl) shutdown() {
	impl.lock.Lock()
	if impl.hasShutDown {
		impl.lock.Unlock()
		return
	}
	impl.hasShutDown = true
	impl.desiredState = connectionDisconnected

	context := impl.callbackContext
	var params callbackActionParams
	if context.expectingConnect() {
		params = context.prepareConnectResult(rpcStatus(StatusConnectionClosed))
	} else {
		params = context.prepareDisconnect(RpcError{}, RpcError{})
	}

	var handle *scopedHandle[NativeConnection]
	if impl.currentState == connectionConnected || impl.currentState == connectionPendingConnack {
		impl.currentState = connectionDisconnecting
		impl.setCloseReasonLocked(rpcStatus(StatusConnectionClosed))
		handle = impl.underlying.Scoped()
	}
	impl.lock.Unlock()

	if handle.Valid() {
		handle.Get().Close(EngineErrorNone)
		handle.Release()
	}
	context.invoke(params)
	impl.activity.markShutdown()
}

func (impl *clientConnectionImpl) newStream(model OperationModelContext, handler StreamResponseHandler) *ClientContinuation {
	impl.lock.Lock()
	handle := &scopedHandle[NativeConnection]{}
	if impl.currentState == connectionConnected {
		handle = impl.underlying.Scoped()
	}
	metrics := impl.metrics
	impl.lock.Unlock()
	defer handle.Release()

	log := impl.log.WithField(streamLoggerKey, impl.streamSeq.Add(1))
	if model != nil {
		log = log.WithField(operationLoggerKey, model.OperationName())
	}
	continuation := newClientContinuationImpl(model, handler, metrics, log)
	continuation.bind(handle)
	return &ClientContinuation{impl: continuation}
}

func (impl *clientConnectionImpl) sendProtocolMessage(message MessageArgs, onFlush OnMessageFlushCallback) *Future[RpcError] {
	impl.lock.Lock()
	if impl.currentState != connectionConnected {
		impl.lock.Unlock()
		return failedFlush(onFlush, rpcStatus(StatusConnectionClosed))
	}
	handle := impl.underlying.Scoped()
	metrics := impl.metrics
	impl.lock.Unlock()
	defer handle.Release()

	outcome := newFlushOutcome(onFlush)
	err := error(NewEngineError(EngineErrorConnectionClosed, "send protocol message"))
	if handle.Valid() {
		err = handle.Get().SendProtocolMessage(message, func(errorCode int) {
			outcome.Complete(flushResult(errorCode))
		})
	}
	if err != nil {
		impl.log.WithError(err).Error("failed to send protocol message")
		outcome.Complete(crtError(engineErrorCode(err)))
		return outcome.Future()
	}
	metrics.messageSent(message.Type)
	return outcome.Future()
}

func (impl *clientConnectionImpl) isOpen() bool {
	impl.lock.Lock()
	defer impl.lock.Unlock()
	return impl.currentState == connectionConnected
}

func (impl *clientConnectionImpl) state() connectionState {
	impl.lock.Lock()
	defer impl.lock.Unlock()
	return impl.currentState
}

// ClientConnection is a connection to an event-stream RPC server. The zero
// value is not usable; create one with NewClientConnection.
type ClientConnection struct {
	impl *clientConnectionImpl
}

// NewClientConnection returns a disconnected connection.
func NewClientConnection() *ClientConnection {
	return &ClientConnection{impl: newClientConnectionImpl()}
}

// ID returns the identifier used in this connection's log entries.
func (connection *ClientConnection) ID() string { return connection.impl.id }

// Connect starts connecting and returns a future resolved once the CONNECT
// handshake succeeded or failed. It never blocks.
func (connection *ClientConnection) Connect(config *ConnectionConfig, handler ConnectionLifecycleHandler) *Future[RpcError] {
	return connection.impl.connect(config, handler)
}

// NewStream returns an unactivated continuation. On a connection that is
// not open the continuation fails every operation with connection-closed.
func (connection *ClientConnection) NewStream(model OperationModelContext, handler StreamResponseHandler) *ClientContinuation {
	return connection.impl.newStream(model, handler)
}

// SendPing sends a PING protocol message.
func (connection *ClientConnection) SendPing(headers []Header, payload []byte, onFlush OnMessageFlushCallback) *Future[RpcError] {
	return connection.impl.sendProtocolMessage(MessageArgs{Headers: cloneHeaders(headers), Payload: payload, Type: MessageTypePing}, onFlush)
}

// SendPingResponse answers a PING.
func (connection *ClientConnection) SendPingResponse(headers []Header, payload []byte, onFlush OnMessageFlushCallback) *Future[RpcError] {
	return connection.impl.sendProtocolMessage(MessageArgs{Headers: cloneHeaders(headers), Payload: payload, Type: MessageTypePingResponse}, onFlush)
}

// Close starts closing the connection. Calling it again is harmless.
func (connection *ClientConnection) Close() {
	connection.impl.close()
}

// Shutdown closes the connection without waiting for the server and
// silences every later callback. The owed connect result or disconnect
// notification is delivered before Shutdown returns.
func (connection *ClientConnection) Shutdown() {
	connection.impl.shutdown()
}

// IsOpen reports whether the handshake completed and the connection is up.
func (connection *ClientConnection) IsOpen() bool {
	return connection.impl.isOpen()
}

// Idle is closed once Shutdown was called and no native activity remains.
func (connection *ClientConnection) Idle() <-chan struct{} {
	return connection.impl.activity.Idle()
}
