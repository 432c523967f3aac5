// Package eventstreamrpc provides a client for the event-stream RPC protocol:
// a connection handshake followed by any number of multiplexed request and
// response streams, each carried as event-stream encoded messages.
//
// The primary lifecycle is:
//   - construct a ClientConnection with NewClientConnection
//   - Connect with a ConnectionConfig and a ConnectionLifecycleHandler
//   - open streams with NewStream, or typed ones with NewClientOperation
//   - Close the connection, then Shutdown to release it
//
// Connect and the stream operations never block. Each returns a Future that
// resolves once the outcome is known; callbacks passed in alongside fire
// exactly once as well.
//
// Native callbacks, lifecycle hooks, and stream handlers for one connection
// all run on that connection's event loop, one at a time. No connection or
// stream lock is held while they run, so handlers may call back into the
// client, including ShutDown on their own stream.
//
// Errors are reported as RpcError values. A StatusCrtError carries the
// engine code of the transport failure underneath.
//
// Integration tests run against the in-process echo server in the echotest
// package and need no external services.
package eventstreamrpc
