package eventstreamrpc

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ClientOperation is a typed stream: requests and events are Shapes
// serialized as JSON, and the activation response is a TaggedResult.
type ClientOperation struct {
	continuation *ClientContinuation
	model        OperationModelContext
	result       *Outcome[TaggedResult]
	activated    atomic.Bool
	log          *logrus.Entry
}

// NewClientOperation creates the stream for model on connection. handler
// may be nil for operations without a response stream.
func NewClientOperation(connection *ClientConnection, model OperationModelContext, handler StreamResponseHandler) *ClientOperation {
	operation := &ClientOperation{
		model:  model,
		result: NewOutcome[TaggedResult](nil),
		log:    connection.impl.log,
	}
	if model != nil {
		operation.log = operation.log.WithField(operationLoggerKey, model.OperationName())
	}
	operation.continuation = connection.NewStream(model, handler)
	return operation
}

func modeledMessageHeaders(shape Shape) []Header {
	return []Header{
		NewStringHeader(ContentTypeHeader, ContentTypeApplicationJSON),
		NewStringHeader(ServiceModelTypeHeader, shape.ModelName()),
	}
}

// Activate sends request as the first message of the operation. The
// returned future resolves on flush; GetResult resolves with the response.
// Only the first Activate owns the result: a later one fails its flush with
// continuation-already-opened and leaves GetResult alone.
func (operation *ClientOperation) Activate(request Shape, onFlush OnMessageFlushCallback) *Future[RpcError] {
	if operation.model == nil || request == nil {
		err := rpcStatus(StatusNullParameter)
		operation.result.Complete(NewRPCErrorResult(err))
		return failedFlush(onFlush, err)
	}
	payload, err := EncodeShape(request)
	if err != nil {
		operation.log.WithError(err).Error("failed to serialize the request")
		status := rpcStatus(StatusAllocationError)
		operation.result.Complete(NewRPCErrorResult(status))
		return failedFlush(onFlush, status)
	}
	if !operation.activated.CompareAndSwap(false, true) {
		return failedFlush(onFlush, rpcStatus(StatusContinuationAlreadyOpened))
	}

	return operation.continuation.Activate(
		operation.model.OperationName(),
		modeledMessageHeaders(request),
		payload,
		MessageTypeApplicationMessage,
		0,
		func(result TaggedResult) { operation.result.Complete(result) },
		func(flushErr RpcError) {
			if !flushErr.OK() {
				operation.result.Complete(NewRPCErrorResult(flushErr))
			}
			if onFlush != nil {
				onFlush(flushErr)
			}
		},
	)
}

// SendStreamMessage sends event on the activated stream.
func (operation *ClientOperation) SendStreamMessage(event Shape, onFlush OnMessageFlushCallback) *Future[RpcError] {
	if event == nil {
		return failedFlush(onFlush, rpcStatus(StatusNullParameter))
	}
	payload, err := EncodeShape(event)
	if err != nil {
		operation.log.WithError(err).Error("failed to serialize the stream message")
		return failedFlush(onFlush, rpcStatus(StatusAllocationError))
	}
	return operation.continuation.SendStreamMessage(modeledMessageHeaders(event), payload, MessageTypeApplicationMessage, 0, onFlush)
}

// GetResult returns the future of the activation response.
func (operation *ClientOperation) GetResult() *Future[TaggedResult] {
	return operation.result.Future()
}

// Close terminates the stream.
func (operation *ClientOperation) Close(onFlush OnMessageFlushCallback) *Future[RpcError] {
	return operation.continuation.Close(onFlush)
}

// IsClosed reports whether the stream is closed.
func (operation *ClientOperation) IsClosed() bool {
	return operation.continuation.IsClosed()
}

// ShutDown releases the stream without waiting for the server; a pending
// result resolves with continuation-closed.
func (operation *ClientOperation) ShutDown() {
	operation.continuation.ShutDown()
	operation.result.Complete(NewRPCErrorResult(rpcStatus(StatusContinuationClosed)))
}

// Idle is closed once ShutDown was called and no native activity remains.
func (operation *ClientOperation) Idle() <-chan struct{} {
	return operation.continuation.Idle()
}
