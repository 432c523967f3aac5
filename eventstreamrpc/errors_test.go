package eventstreamrpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusToString(t *testing.T) {
	cases := map[StatusCode]string{
		StatusSuccess:                      "EVENT_STREAM_RPC_SUCCESS",
		StatusNullParameter:                "EVENT_STREAM_RPC_NULL_PARAMETER",
		StatusConnectionAccessDenied:       "EVENT_STREAM_RPC_CONNECTION_ACCESS_DENIED",
		StatusConnectionAlreadyEstablished: "EVENT_STREAM_RPC_CONNECTION_ALREADY_ESTABLISHED",
		StatusContinuationClosed:           "EVENT_STREAM_RPC_CONTINUATION_CLOSED",
		StatusUnsupportedContentType:       "EVENT_STREAM_RPC_UNSUPPORTED_CONTENT_TYPE",
		StatusCrtError:                     "EVENT_STREAM_RPC_CRT_ERROR",
	}
	for status, expected := range cases {
		assert.Equal(t, expected, StatusToString(status))
		assert.Equal(t, expected, status.String())
	}
}

func TestRpcErrorString(t *testing.T) {
	assert.Equal(t, "EVENT_STREAM_RPC_CONNECTION_CLOSED", rpcStatus(StatusConnectionClosed).String())
	assert.Equal(t,
		"Failed with EVENT_STREAM_RPC_CRT_ERROR, the CRT error was EngineErrorSocketError",
		crtError(EngineErrorSocketError).Error())
	assert.True(t, RpcError{}.OK())
	assert.False(t, crtError(EngineErrorProtocol).OK())
}

func TestRpcErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", crtError(EngineErrorConnectTimeout))

	assert.True(t, errors.Is(wrapped, RpcError{StatusCode: StatusCrtError}))
	assert.True(t, errors.Is(wrapped, crtError(EngineErrorConnectTimeout)))
	assert.False(t, errors.Is(wrapped, crtError(EngineErrorSocketError)))
	assert.False(t, errors.Is(wrapped, rpcStatus(StatusConnectionClosed)))
}

func TestEngineErrorCode(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := fmt.Errorf("send: %w", NewEngineError(EngineErrorSocketError, "write", cause))

	assert.Equal(t, EngineErrorSocketError, engineErrorCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, EngineErrorUnknown, engineErrorCode(errors.New("foreign")))
	assert.Equal(t, EngineErrorNone, engineErrorCode(nil))
	assert.Equal(t, "write: EngineErrorSocketError: connection reset by peer", NewEngineError(EngineErrorSocketError, "write", cause).Error())
	assert.Equal(t, "EngineError(7)", EngineErrorName(7))
}
