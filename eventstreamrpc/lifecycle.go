package eventstreamrpc

// ConnectionLifecycleHandler receives connection level events. Callbacks run
// on the connection's event loop and never while connection state is locked.
type ConnectionLifecycleHandler interface {
	// OnConnect fires when the server accepted the CONNECT handshake.
	OnConnect()
	// OnDisconnect fires once after a successful connect, when the
	// connection is gone.
	OnDisconnect(status RpcError)
	// OnError reports a protocol problem; returning true closes the connection.
	OnError(status RpcError) bool
	// OnPing delivers a PING sent by the server.
	OnPing(headers []Header, payload []byte)
}

// DefaultLifecycleHandler implements every hook with the default behavior.
// Embed it to override only some of them.
type DefaultLifecycleHandler struct{}

// OnConnect does nothing.
func (DefaultLifecycleHandler) OnConnect() {}

// OnDisconnect does nothing.
func (DefaultLifecycleHandler) OnDisconnect(RpcError) {}

// OnError asks for the connection to be closed.
func (DefaultLifecycleHandler) OnError(RpcError) bool { return true }

// OnPing does nothing.
func (DefaultLifecycleHandler) OnPing([]Header, []byte) {}

// LifecycleHandlerFuncs adapts plain functions; nil fields use the defaults.
type LifecycleHandlerFuncs struct {
	OnConnectFunc    func()
	OnDisconnectFunc func(status RpcError)
	OnErrorFunc      func(status RpcError) bool
	OnPingFunc       func(headers []Header, payload []byte)
}

func (funcs LifecycleHandlerFuncs) OnConnect() {
	if funcs.OnConnectFunc != nil {
		funcs.OnConnectFunc()
	}
}

func (funcs LifecycleHandlerFuncs) OnDisconnect(status RpcError) {
	if funcs.OnDisconnectFunc != nil {
		funcs.OnDisconnectFunc(status)
	}
}

func (funcs LifecycleHandlerFuncs) OnError(status RpcError) bool {
	if funcs.OnErrorFunc != nil {
		return funcs.OnErrorFunc(status)
	}
	return true
}

func (funcs LifecycleHandlerFuncs) OnPing(headers []Header, payload []byte) {
	if funcs.OnPingFunc != nil {
		funcs.OnPingFunc(headers, payload)
	}
}
