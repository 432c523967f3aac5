package eventstreamrpc

import (
	"crypto/tls"
)

// EventLoop runs tasks serially on the goroutine that delivers native callbacks.
type EventLoop interface {
	// Schedule queues task; it reports false if the loop no longer accepts work.
	Schedule(task func()) bool
}

// ConnectOptions is what a ChannelEngine needs to open a connection.
type ConnectOptions struct {
	HostName      string
	Port          uint16
	SocketOptions SocketOptions
	TLSConfig     *tls.Config
}

// ConnectionCallbacks are invoked by the engine on the connection's event loop.
type ConnectionCallbacks struct {
	// OnSetup fires once. connection is nil when errorCode is non-zero.
	OnSetup func(connection NativeConnection, errorCode int)
	// OnShutdown fires once, after a successful OnSetup, when the channel is gone.
	OnShutdown func(connection NativeConnection, errorCode int)
	// OnProtocolMessage delivers connection-level messages (stream id 0).
	OnProtocolMessage func(connection NativeConnection, message MessageArgs)
}

// ChannelEngine opens native event-stream RPC connections.
type ChannelEngine interface {
	// Connect starts an asynchronous connect. A non-nil error means no
	// callback will ever fire.
	Connect(options ConnectOptions, callbacks ConnectionCallbacks) error
}

// NativeConnection is a reference-counted channel handle. The reference
// passed to OnSetup is only borrowed; holders must Acquire their own.
type NativeConnection interface {
	Acquire()
	Release()
	// Close starts an asynchronous shutdown; OnShutdown reports its completion.
	Close(errorCode int)
	// SendProtocolMessage queues a connection-level message. onFlush fires
	// on the event loop once the message was written or failed.
	SendProtocolMessage(message MessageArgs, onFlush func(errorCode int)) error
	// NewStream creates an unactivated continuation. The returned handle
	// carries one reference owned by the caller.
	NewStream(callbacks ContinuationCallbacks) (NativeContinuation, error)
	// EventLoop returns the loop delivering this connection's callbacks.
	EventLoop() EventLoop
}

// ContinuationCallbacks are invoked by the engine on the connection's event loop.
type ContinuationCallbacks struct {
	OnMessage func(message MessageArgs)
	// OnClosed fires once when either side terminated the stream or the
	// connection shut down.
	OnClosed func()
	// OnTerminated fires once, after the last reference is released.
	OnTerminated func()
}

// NativeContinuation is a reference-counted stream handle.
type NativeContinuation interface {
	Acquire()
	Release()
	Activate(operationName string, message MessageArgs, onFlush func(errorCode int)) error
	SendMessage(message MessageArgs, onFlush func(errorCode int)) error
	IsClosed() bool
}
