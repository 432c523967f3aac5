package echotest

import (
	"context"
	"time"

	"github.com/Thejuampi/eventstreamrpc-go/eventstreamrpc"
)

// DefaultPort is where the echo server listens unless told otherwise.
const DefaultPort = 8033

// AcceptedClientName is a client-name the echo server accepts.
const AcceptedClientName = "accepted.testy_mc_testerson"

// DefaultConnectionConfig targets an echo server on 127.0.0.1:8033 and
// identifies as an accepted client.
func DefaultConnectionConfig() *eventstreamrpc.ConnectionConfig {
	config := &eventstreamrpc.ConnectionConfig{
		HostName: "127.0.0.1",
		SocketOptions: eventstreamrpc.SocketOptions{
			Domain:         eventstreamrpc.SocketDomainIPv4,
			ConnectTimeout: 3 * time.Second,
		},
		ConnectAmendment: eventstreamrpc.NewMessageAmendment([]eventstreamrpc.Header{
			eventstreamrpc.NewStringHeader(ClientNameHeader, AcceptedClientName),
		}, nil),
	}
	config.SetPort(DefaultPort)
	return config
}

// EchoTestRpcClient opens typed echo operations over one connection.
type EchoTestRpcClient struct {
	connection *eventstreamrpc.ClientConnection
}

// NewEchoTestRpcClient returns a disconnected client.
func NewEchoTestRpcClient() *EchoTestRpcClient {
	return &EchoTestRpcClient{connection: eventstreamrpc.NewClientConnection()}
}

// Connect connects with config, or DefaultConnectionConfig when config is
// nil. A nil handler ignores lifecycle events.
func (client *EchoTestRpcClient) Connect(handler eventstreamrpc.ConnectionLifecycleHandler, config *eventstreamrpc.ConnectionConfig) *eventstreamrpc.Future[eventstreamrpc.RpcError] {
	if handler == nil {
		handler = eventstreamrpc.DefaultLifecycleHandler{}
	}
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return client.connection.Connect(config, handler)
}

func (client *EchoTestRpcClient) IsConnected() bool { return client.connection.IsOpen() }

// Connection returns the underlying connection.
func (client *EchoTestRpcClient) Connection() *eventstreamrpc.ClientConnection {
	return client.connection
}

func (client *EchoTestRpcClient) Close() { client.connection.Close() }

// Shutdown releases the connection; see ClientConnection.Shutdown.
func (client *EchoTestRpcClient) Shutdown() { client.connection.Shutdown() }

func (client *EchoTestRpcClient) NewGetAllProducts() *Operation[*GetAllProductsRequest, *GetAllProductsResponse] {
	return newOperation[*GetAllProductsRequest, *GetAllProductsResponse](client.connection, GetAllProductsModel, nil)
}

func (client *EchoTestRpcClient) NewGetAllCustomers() *Operation[*GetAllCustomersRequest, *GetAllCustomersResponse] {
	return newOperation[*GetAllCustomersRequest, *GetAllCustomersResponse](client.connection, GetAllCustomersModel, nil)
}

func (client *EchoTestRpcClient) NewEchoMessage() *Operation[*EchoMessageRequest, *EchoMessageResponse] {
	return newOperation[*EchoMessageRequest, *EchoMessageResponse](client.connection, EchoMessageModel, nil)
}

func (client *EchoTestRpcClient) NewCauseServiceError() *Operation[*CauseServiceErrorRequest, *CauseServiceErrorResponse] {
	return newOperation[*CauseServiceErrorRequest, *CauseServiceErrorResponse](client.connection, CauseServiceErrorModel, nil)
}

func (client *EchoTestRpcClient) NewEchoStreamMessages(handler StreamHandler) *StreamingOperation {
	return newStreamingOperation(client.connection, EchoStreamMessagesModel, handler)
}

func (client *EchoTestRpcClient) NewCauseStreamServiceToError(handler StreamHandler) *StreamingOperation {
	return newStreamingOperation(client.connection, CauseStreamServiceToErrorModel, handler)
}

// Operation is a request/response echo operation with typed shapes.
type Operation[Request eventstreamrpc.Shape, Response eventstreamrpc.Shape] struct {
	*eventstreamrpc.ClientOperation
}

func newOperation[Request eventstreamrpc.Shape, Response eventstreamrpc.Shape](
	connection *eventstreamrpc.ClientConnection,
	model *eventstreamrpc.OperationModel,
	handler eventstreamrpc.StreamResponseHandler,
) *Operation[Request, Response] {
	return &Operation[Request, Response]{ClientOperation: eventstreamrpc.NewClientOperation(connection, model, handler)}
}

// Activate sends request.
func (operation *Operation[Request, Response]) Activate(request Request, onFlush eventstreamrpc.OnMessageFlushCallback) *eventstreamrpc.Future[eventstreamrpc.RpcError] {
	return operation.ClientOperation.Activate(request, onFlush)
}

// Result waits for the activation response. response is set only when
// result holds a modeled response.
func (operation *Operation[Request, Response]) Result(ctx context.Context) (response Response, result eventstreamrpc.TaggedResult, err error) {
	result, err = operation.GetResult().Get(ctx)
	if err != nil {
		return response, result, err
	}
	if result.OK() {
		response, _ = result.OperationResponse().(Response)
	}
	return response, result, nil
}

// StreamingOperation is an echo operation that keeps a stream of
// EchoStreamingMessage open in both directions after activation.
type StreamingOperation struct {
	*Operation[*EchoStreamingRequest, *EchoStreamingResponse]
}

func newStreamingOperation(connection *eventstreamrpc.ClientConnection, model *eventstreamrpc.OperationModel, handler StreamHandler) *StreamingOperation {
	return &StreamingOperation{
		Operation: newOperation[*EchoStreamingRequest, *EchoStreamingResponse](connection, model, handler.adapt()),
	}
}

// SendStreamMessage sends message on the activated stream.
func (operation *StreamingOperation) SendStreamMessage(message *EchoStreamingMessage, onFlush eventstreamrpc.OnMessageFlushCallback) *eventstreamrpc.Future[eventstreamrpc.RpcError] {
	if message == nil {
		return operation.ClientOperation.SendStreamMessage(nil, onFlush)
	}
	return operation.ClientOperation.SendStreamMessage(message, onFlush)
}

// StreamHandler receives the stream of an echo streaming operation. Nil
// fields fall back to ignoring events and closing on errors.
type StreamHandler struct {
	OnStreamEvent func(message *EchoStreamingMessage)
	// OnServiceError returns true to close the stream.
	OnServiceError func(serviceError *ServiceError) bool
	// OnRpcError returns true to close the stream.
	OnRpcError     func(err eventstreamrpc.RpcError) bool
	OnStreamClosed func()
}

func (handler StreamHandler) adapt() eventstreamrpc.StreamResponseHandler {
	return eventstreamrpc.StreamResponseHandlerFuncs{
		OnStreamEventFunc: func(response eventstreamrpc.Shape) {
			message, ok := response.(*EchoStreamingMessage)
			if ok && handler.OnStreamEvent != nil {
				handler.OnStreamEvent(message)
			}
		},
		OnStreamErrorFunc: func(operationError eventstreamrpc.OperationError, rpcError eventstreamrpc.RpcError) bool {
			if operationError != nil {
				serviceError, ok := operationError.(*ServiceError)
				if ok && handler.OnServiceError != nil {
					return handler.OnServiceError(serviceError)
				}
				return true
			}
			if handler.OnRpcError != nil {
				return handler.OnRpcError(rpcError)
			}
			return true
		},
		OnStreamClosedFunc: handler.OnStreamClosed,
	}
}
