package eventstreamrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackContextConnectThenDisconnect(t *testing.T) {
	handler := &recordingHandler{}
	var resolved []RpcError
	context := newConnectionCallbackContext(handler, func(err RpcError) { resolved = append(resolved, err) })
	assert.True(t, context.expectingConnect())

	params := context.prepareConnectSuccess()
	assert.Equal(t, callbackActionConnectSuccess, params.action)
	assert.False(t, context.expectingConnect())
	context.invoke(params)

	connects, _, _ := handler.snapshot()
	assert.Equal(t, 1, connects)
	result, ok := context.connectFuture().TryGet()
	require.True(t, ok)
	assert.True(t, result.OK())
	assert.Equal(t, []RpcError{{}}, resolved)

	assert.Equal(t, callbackActionNone, context.prepareConnectResult(rpcStatus(StatusConnectionClosed)).action)

	params = context.prepareDisconnect(rpcStatus(StatusConnectionClosed), crtError(EngineErrorSocketError))
	assert.Equal(t, callbackActionDisconnect, params.action)
	context.invoke(params)
	_, disconnects, _ := handler.snapshot()
	assert.Equal(t, []RpcError{crtError(EngineErrorSocketError)}, disconnects)

	assert.Equal(t, callbackActionNone, context.prepareDisconnect(RpcError{}, RpcError{}).action)
}

func TestCallbackContextDisconnectBeforeConnect(t *testing.T) {
	handler := &recordingHandler{}
	context := newConnectionCallbackContext(handler, nil)

	params := context.prepareDisconnect(rpcStatus(StatusConnectionAccessDenied), RpcError{})
	assert.Equal(t, callbackActionCompleteConnect, params.action)
	context.invoke(params)

	result, _ := context.connectFuture().TryGet()
	assert.Equal(t, StatusConnectionAccessDenied, result.StatusCode)
	connects, disconnects, _ := handler.snapshot()
	assert.Zero(t, connects)
	assert.Empty(t, disconnects)

	assert.Equal(t, callbackActionNone, context.prepareConnectSuccess().action)
}

func TestCallbackContextNilIsInert(t *testing.T) {
	var context *connectionCallbackContext
	assert.False(t, context.expectingConnect())
	assert.Equal(t, callbackActionNone, context.prepareConnectResult(RpcError{}).action)
	assert.Equal(t, callbackActionNone, context.prepareConnectSuccess().action)
	assert.Equal(t, callbackActionNone, context.prepareDisconnect(RpcError{}, RpcError{}).action)
	context.invoke(callbackActionParams{action: callbackActionDisconnect})
}
