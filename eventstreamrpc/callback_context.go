package eventstreamrpc

type callbackContextState int

const (
	callbackContextExpectingConnect callbackContextState = iota
	callbackContextExpectingDisconnect
	callbackContextFinished
)

type callbackAction int

const (
	callbackActionNone callbackAction = iota
	callbackActionCompleteConnect
	callbackActionConnectSuccess
	callbackActionDisconnect
)

// callbackActionParams is what a locked transition decided to run once the
// lock is released.
type callbackActionParams struct {
	action callbackAction
	err    RpcError
}

// connectionCallbackContext decides which caller hook a connection event maps
// to. Every prepare method must be called with the connection state lock
// held; invoke must be called without it.
type connectionCallbackContext struct {
	state          callbackContextState
	connectOutcome *Outcome[RpcError]
	handler        ConnectionLifecycleHandler
}

// onResolved, if set, observes the connect result after waiters are released.
func newConnectionCallbackContext(handler ConnectionLifecycleHandler, onResolved func(RpcError)) *connectionCallbackContext {
	return &connectionCallbackContext{
		state:          callbackContextExpectingConnect,
		connectOutcome: NewOutcome(onResolved),
		handler:        handler,
	}
}

// connectFuture returns the future Connect hands back to its caller.
func (context *connectionCallbackContext) connectFuture() *Future[RpcError] {
	return context.connectOutcome.Future()
}

// expectingConnect reports whether the connect future is still unresolved.
func (context *connectionCallbackContext) expectingConnect() bool {
	return context != nil && context.state == callbackContextExpectingConnect
}

// prepareConnectResult resolves a pending connect with err. Nothing happens
// once the connect has been answered.
func (context *connectionCallbackContext) prepareConnectResult(err RpcError) callbackActionParams {
	if context == nil || context.state != callbackContextExpectingConnect {
		return callbackActionParams{}
	}
	context.state = callbackContextFinished
	return callbackActionParams{action: callbackActionCompleteConnect, err: err}
}

// prepareConnectSuccess turns the context into a disconnect context.
func (context *connectionCallbackContext) prepareConnectSuccess() callbackActionParams {
	if context == nil || context.state != callbackContextExpectingConnect {
		return callbackActionParams{}
	}
	context.state = callbackContextExpectingDisconnect
	return callbackActionParams{action: callbackActionConnectSuccess}
}

// prepareDisconnect maps the end of the connection to whichever hook is
// still owed: the connect future, or OnDisconnect.
func (context *connectionCallbackContext) prepareDisconnect(connectErr RpcError, disconnectErr RpcError) callbackActionParams {
	if context == nil {
		return callbackActionParams{}
	}
	switch context.state {
	case callbackContextExpectingConnect:
		context.state = callbackContextFinished
		return callbackActionParams{action: callbackActionCompleteConnect, err: connectErr}
	case callbackContextExpectingDisconnect:
		context.state = callbackContextFinished
		return callbackActionParams{action: callbackActionDisconnect, err: disconnectErr}
	}
	return callbackActionParams{}
}

// invoke runs the hooks chosen by a prepare call.
func (context *connectionCallbackContext) invoke(params callbackActionParams) {
	if context == nil {
		return
	}
	switch params.action {
	case callbackActionCompleteConnect:
		context.connectOutcome.Complete(params.err)
	case callbackActionConnectSuccess:
		context.handler.OnConnect()
		context.connectOutcome.Complete(RpcError{})
	case callbackActionDisconnect:
		context.handler.OnDisconnect(params.err)
	}
}
