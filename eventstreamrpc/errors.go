package eventstreamrpc

import (
	"errors"
	"fmt"
)

// StatusCode classifies the outcome of an RPC operation.
type StatusCode int

const (
	StatusSuccess StatusCode = iota

	StatusNullParameter

	StatusUninitialized

	StatusAllocationError

	StatusConnectionSetupFailed

	StatusConnectionAccessDenied

	StatusConnectionAlreadyEstablished

	StatusConnectionClosed

	StatusContinuationClosed

	StatusContinuationNotYetOpened

	StatusContinuationAlreadyOpened

	StatusUnknownProtocolMessage

	StatusUnmappedData

	StatusUnsupportedContentType

	StatusCrtError
)

// StatusToString returns the wire-compatible name of a status code.
func StatusToString(status StatusCode) string {
	switch status {
	case StatusSuccess:
		return "EVENT_STREAM_RPC_SUCCESS"
	case StatusNullParameter:
		return "EVENT_STREAM_RPC_NULL_PARAMETER"
	case StatusUninitialized:
		return "EVENT_STREAM_RPC_UNINITIALIZED"
	case StatusAllocationError:
		return "EVENT_STREAM_RPC_ALLOCATION_ERROR"
	case StatusConnectionSetupFailed:
		return "EVENT_STREAM_RPC_CONNECTION_SETUP_FAILED"
	case StatusConnectionAccessDenied:
		return "EVENT_STREAM_RPC_CONNECTION_ACCESS_DENIED"
	case StatusConnectionAlreadyEstablished:
		return "EVENT_STREAM_RPC_CONNECTION_ALREADY_ESTABLISHED"
	case StatusConnectionClosed:
		return "EVENT_STREAM_RPC_CONNECTION_CLOSED"
	case StatusContinuationClosed:
		return "EVENT_STREAM_RPC_CONTINUATION_CLOSED"
	case StatusContinuationNotYetOpened:
		return "EVENT_STREAM_RPC_CONTINUATION_NOT_YET_OPENED"
	case StatusContinuationAlreadyOpened:
		return "EVENT_STREAM_RPC_CONTINUATION_ALREADY_OPENED"
	case StatusUnknownProtocolMessage:
		return "EVENT_STREAM_RPC_UNKNOWN_PROTOCOL_MESSAGE"
	case StatusUnmappedData:
		return "EVENT_STREAM_RPC_UNMAPPED_DATA"
	case StatusUnsupportedContentType:
		return "EVENT_STREAM_RPC_UNSUPPORTED_CONTENT_TYPE"
	case StatusCrtError:
		return "EVENT_STREAM_RPC_CRT_ERROR"
	}
	return "Unknown status code"
}

// String returns the status name.
func (status StatusCode) String() string { return StatusToString(status) }

// RpcError is the result of every connection and continuation operation.
// The zero value means success.
type RpcError struct {
	StatusCode StatusCode
	CrtError   int
}

// OK reports whether the operation succeeded.
func (err RpcError) OK() bool { return err.StatusCode == StatusSuccess }

// String describes the status, including the engine error for engine failures.
func (err RpcError) String() string {
	if err.StatusCode == StatusCrtError {
		return fmt.Sprintf("Failed with %s, the CRT error was %s",
			StatusToString(err.StatusCode), EngineErrorName(err.CrtError))
	}
	return StatusToString(err.StatusCode)
}

// Error implements error.
func (err RpcError) Error() string { return err.String() }

// Is matches another RpcError by status code, and by engine code when both
// carry one.
func (err RpcError) Is(target error) bool {
	var other RpcError
	if !errors.As(target, &other) {
		return false
	}
	if err.StatusCode != other.StatusCode {
		return false
	}
	return other.CrtError == 0 || err.CrtError == other.CrtError
}

func rpcStatus(status StatusCode) RpcError {
	return RpcError{StatusCode: status}
}

func crtError(code int) RpcError {
	return RpcError{StatusCode: StatusCrtError, CrtError: code}
}

// Engine error codes reported through EngineError and RpcError.CrtError.
const (
	EngineErrorNone = iota

	EngineErrorUnknown = 0x2000 + iota

	EngineErrorConnectionClosed

	EngineErrorSocketError

	EngineErrorConnectTimeout

	EngineErrorProtocol

	EngineErrorStreamClosed

	EngineErrorStreamNotActivated

	EngineErrorStreamAlreadyActivated

	EngineErrorInvalidArgument

	EngineErrorEncode

	EngineErrorTLSNegotiation
)

// EngineErrorName returns a readable name for an engine error code.
func EngineErrorName(code int) string {
	switch code {
	case EngineErrorNone:
		return "EngineErrorNone"
	case EngineErrorUnknown:
		return "EngineErrorUnknown"
	case EngineErrorConnectionClosed:
		return "EngineErrorConnectionClosed"
	case EngineErrorSocketError:
		return "EngineErrorSocketError"
	case EngineErrorConnectTimeout:
		return "EngineErrorConnectTimeout"
	case EngineErrorProtocol:
		return "EngineErrorProtocol"
	case EngineErrorStreamClosed:
		return "EngineErrorStreamClosed"
	case EngineErrorStreamNotActivated:
		return "EngineErrorStreamNotActivated"
	case EngineErrorStreamAlreadyActivated:
		return "EngineErrorStreamAlreadyActivated"
	case EngineErrorInvalidArgument:
		return "EngineErrorInvalidArgument"
	case EngineErrorEncode:
		return "EngineErrorEncode"
	case EngineErrorTLSNegotiation:
		return "EngineErrorTLSNegotiation"
	}
	return fmt.Sprintf("EngineError(%d)", code)
}

// EngineError is returned by channel engine operations that fail synchronously.
type EngineError struct {
	Code int
	Op   string
	Err  error
}

// NewEngineError returns an EngineError for op with an optional cause.
func NewEngineError(code int, op string, cause ...error) *EngineError {
	engineErr := &EngineError{Code: code, Op: op}
	if len(cause) > 0 {
		engineErr.Err = cause[0]
	}
	return engineErr
}

func (err *EngineError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("%s: %s: %v", err.Op, EngineErrorName(err.Code), err.Err)
	}
	return fmt.Sprintf("%s: %s", err.Op, EngineErrorName(err.Code))
}

func (err *EngineError) Unwrap() error { return err.Err }

// engineErrorCode extracts the engine code from err, falling back to
// EngineErrorUnknown for foreign errors.
func engineErrorCode(err error) int {
	if err == nil {
		return EngineErrorNone
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Code != EngineErrorNone {
		return engineErr.Code
	}
	return EngineErrorUnknown
}
