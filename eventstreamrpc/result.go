package eventstreamrpc

// ResultType tags the variant held by a TaggedResult.
type ResultType int

const (
	OperationResponse ResultType = iota
	OperationErrorResult
	RPCError
)

// TaggedResult is the outcome of an activation: a modeled response, a
// modeled error, or an RpcError.
type TaggedResult struct {
	resultType     ResultType
	response       Shape
	operationError OperationError
	rpcError       RpcError
}

// NewResponseResult wraps a modeled response.
func NewResponseResult(response Shape) TaggedResult {
	return TaggedResult{resultType: OperationResponse, response: response}
}

// NewOperationErrorResult wraps a modeled error.
func NewOperationErrorResult(operationError OperationError) TaggedResult {
	return TaggedResult{resultType: OperationErrorResult, operationError: operationError}
}

// NewRPCErrorResult wraps an RpcError.
func NewRPCErrorResult(err RpcError) TaggedResult {
	return TaggedResult{resultType: RPCError, rpcError: err}
}

// ResultType returns the held variant.
func (result TaggedResult) ResultType() ResultType { return result.resultType }

// OK reports whether the result is a modeled response.
func (result TaggedResult) OK() bool { return result.resultType == OperationResponse }

// OperationResponse returns the response, or nil for other variants.
func (result TaggedResult) OperationResponse() Shape { return result.response }

// OperationError returns the modeled error, or nil for other variants.
func (result TaggedResult) OperationError() OperationError { return result.operationError }

// RpcError returns the RPC error; it is zero unless ResultType is RPCError.
func (result TaggedResult) RpcError() RpcError { return result.rpcError }

// StreamResponseHandler receives messages that follow the activation response.
// Callbacks run on the connection's event loop.
type StreamResponseHandler interface {
	OnStreamEvent(response Shape)
	// OnStreamError returns true to close the stream. Exactly one of
	// operationError and a non-OK rpcError is set.
	OnStreamError(operationError OperationError, rpcError RpcError) bool
	// OnStreamClosed fires at most once.
	OnStreamClosed()
}

// DefaultStreamResponseHandler ignores events and closes on any error.
type DefaultStreamResponseHandler struct{}

func (DefaultStreamResponseHandler) OnStreamEvent(Shape) {}

func (DefaultStreamResponseHandler) OnStreamError(OperationError, RpcError) bool { return true }

func (DefaultStreamResponseHandler) OnStreamClosed() {}

// StreamResponseHandlerFuncs adapts plain functions; nil fields use the defaults.
type StreamResponseHandlerFuncs struct {
	OnStreamEventFunc  func(response Shape)
	OnStreamErrorFunc  func(operationError OperationError, rpcError RpcError) bool
	OnStreamClosedFunc func()
}

func (funcs StreamResponseHandlerFuncs) OnStreamEvent(response Shape) {
	if funcs.OnStreamEventFunc != nil {
		funcs.OnStreamEventFunc(response)
	}
}

func (funcs StreamResponseHandlerFuncs) OnStreamError(operationError OperationError, rpcError RpcError) bool {
	if funcs.OnStreamErrorFunc != nil {
		return funcs.OnStreamErrorFunc(operationError, rpcError)
	}
	return true
}

func (funcs StreamResponseHandlerFuncs) OnStreamClosed() {
	if funcs.OnStreamClosedFunc != nil {
		funcs.OnStreamClosedFunc()
	}
}
