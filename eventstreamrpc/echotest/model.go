// Package echotest is the awstest echo service: its modeled shapes, a typed
// client, and an in-process server that implements every operation.
package echotest

import (
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/Thejuampi/eventstreamrpc-go/eventstreamrpc"
)

// Model names as they travel in the service-model-type header.
const (
	ProductModel                   = "awstest#Product"
	PairModel                      = "awstest#Pair"
	CustomerModel                  = "awstest#Customer"
	MessageDataModel               = "awstest#MessageData"
	EchoStreamingMessageModel      = "awstest#EchoStreamingMessage"
	ServiceErrorModel              = "awstest#ServiceError"
	GetAllProductsRequestModel     = "awstest#GetAllProductsRequest"
	GetAllProductsResponseModel    = "awstest#GetAllProductsResponse"
	GetAllCustomersRequestModel    = "awstest#GetAllCustomersRequest"
	GetAllCustomersResponseModel   = "awstest#GetAllCustomersResponse"
	EchoStreamingRequestModel      = "awstest#EchoStreamingRequest"
	EchoStreamingResponseModel     = "awstest#EchoStreamingResponse"
	EchoMessageRequestModel        = "awstest#EchoMessageRequest"
	EchoMessageResponseModel       = "awstest#EchoMessageResponse"
	CauseServiceErrorRequestModel  = "awstest#CauseServiceErrorRequest"
	CauseServiceErrorResponseModel = "awstest#CauseServiceErrorResponse"
)

// Operation names.
const (
	GetAllProductsOperation            = "awstest#GetAllProducts"
	GetAllCustomersOperation           = "awstest#GetAllCustomers"
	EchoMessageOperation               = "awstest#EchoMessage"
	EchoStreamMessagesOperation        = "awstest#EchoStreamMessages"
	CauseServiceErrorOperation         = "awstest#CauseServiceError"
	CauseStreamServiceToErrorOperation = "awstest#CauseStreamServiceToError"
)

// FruitEnum is the wire value of MessageData.EnumMessage.
type FruitEnum string

const (
	FruitApple     FruitEnum = "apl"
	FruitOrange    FruitEnum = "org"
	FruitBanana    FruitEnum = "ban"
	FruitPineapple FruitEnum = "pin"
)

// Timestamp is a point in time encoded as fractional epoch seconds with
// millisecond precision.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to milliseconds.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t.Truncate(time.Millisecond)}
}

func (timestamp Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(timestamp.UnixMilli()) / 1000)
}

func (timestamp *Timestamp) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	timestamp.Time = time.UnixMilli(int64(math.Round(seconds * 1000)))
	return nil
}

type Product struct {
	Name  *string  `json:"name,omitempty"`
	Price *float32 `json:"price,omitempty"`
}

func (*Product) ModelName() string { return ProductModel }

type Pair struct {
	Key   *string `json:"key,omitempty"`
	Value *string `json:"value,omitempty"`
}

func (*Pair) ModelName() string { return PairModel }

type Customer struct {
	ID        *int64  `json:"id,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

func (*Customer) ModelName() string { return CustomerModel }

// MessageData carries one value of every kind the codec supports.
type MessageData struct {
	StringMessage     *string            `json:"stringMessage,omitempty"`
	BooleanMessage    *bool              `json:"booleanMessage,omitempty"`
	TimeMessage       *Timestamp         `json:"timeMessage,omitempty"`
	DocumentMessage   map[string]any     `json:"documentMessage,omitempty"`
	EnumMessage       *FruitEnum         `json:"enumMessage,omitempty"`
	BlobMessage       []byte             `json:"blobMessage,omitempty"`
	StringListMessage []string           `json:"stringListMessage,omitempty"`
	KeyValuePairList  []Pair             `json:"keyValuePairList,omitempty"`
	StringToValue     map[string]Product `json:"stringToValue,omitempty"`
}

func (*MessageData) ModelName() string { return MessageDataModel }

// EchoStreamingMessage is a union: exactly one member is set.
type EchoStreamingMessage struct {
	StreamMessage *MessageData `json:"streamMessage,omitempty"`
	KeyValuePair  *Pair        `json:"keyValuePair,omitempty"`
}

func (*EchoStreamingMessage) ModelName() string { return EchoStreamingMessageModel }

// ServiceError is the modeled error of the echo service.
type ServiceError struct {
	Message *string `json:"message,omitempty"`
	Value   *string `json:"value,omitempty"`
}

func (*ServiceError) ModelName() string { return ServiceErrorModel }

func (serviceError *ServiceError) ErrorMessage() (string, bool) {
	if serviceError.Message == nil {
		return "", false
	}
	return *serviceError.Message, true
}

type GetAllProductsRequest struct{}

func (*GetAllProductsRequest) ModelName() string { return GetAllProductsRequestModel }

type GetAllProductsResponse struct {
	Products map[string]Product `json:"products,omitempty"`
}

func (*GetAllProductsResponse) ModelName() string { return GetAllProductsResponseModel }

type GetAllCustomersRequest struct{}

func (*GetAllCustomersRequest) ModelName() string { return GetAllCustomersRequestModel }

type GetAllCustomersResponse struct {
	Customers []Customer `json:"customers,omitempty"`
}

func (*GetAllCustomersResponse) ModelName() string { return GetAllCustomersResponseModel }

type EchoStreamingRequest struct{}

func (*EchoStreamingRequest) ModelName() string { return EchoStreamingRequestModel }

type EchoStreamingResponse struct{}

func (*EchoStreamingResponse) ModelName() string { return EchoStreamingResponseModel }

type EchoMessageRequest struct {
	Message *MessageData `json:"message,omitempty"`
}

func (*EchoMessageRequest) ModelName() string { return EchoMessageRequestModel }

type EchoMessageResponse struct {
	Message *MessageData `json:"message,omitempty"`
}

func (*EchoMessageResponse) ModelName() string { return EchoMessageResponseModel }

type CauseServiceErrorRequest struct{}

func (*CauseServiceErrorRequest) ModelName() string { return CauseServiceErrorRequestModel }

type CauseServiceErrorResponse struct{}

func (*CauseServiceErrorResponse) ModelName() string { return CauseServiceErrorResponseModel }

// ServiceModel maps the modeled errors shared by every echo operation.
var ServiceModel = eventstreamrpc.NewJSONServiceModel().
	RegisterError(ServiceErrorModel, func() eventstreamrpc.OperationError { return &ServiceError{} })

func operationModel(name string, request string, response string, newResponse func() eventstreamrpc.Shape) *eventstreamrpc.OperationModel {
	return &eventstreamrpc.OperationModel{
		Name:                 name,
		RequestModel:         request,
		InitialResponseModel: response,
		NewInitialResponse:   newResponse,
		Service:              ServiceModel,
	}
}

func streamingOperationModel(name string) *eventstreamrpc.OperationModel {
	model := operationModel(name, EchoStreamingRequestModel, EchoStreamingResponseModel,
		func() eventstreamrpc.Shape { return &EchoStreamingResponse{} })
	model.StreamingResponseModel = EchoStreamingMessageModel
	model.NewStreamingResponse = func() eventstreamrpc.Shape { return &EchoStreamingMessage{} }
	return model
}

// Operation models, one per echo operation.
var (
	GetAllProductsModel = operationModel(GetAllProductsOperation, GetAllProductsRequestModel, GetAllProductsResponseModel,
		func() eventstreamrpc.Shape { return &GetAllProductsResponse{} })
	GetAllCustomersModel = operationModel(GetAllCustomersOperation, GetAllCustomersRequestModel, GetAllCustomersResponseModel,
		func() eventstreamrpc.Shape { return &GetAllCustomersResponse{} })
	EchoMessageModel = operationModel(EchoMessageOperation, EchoMessageRequestModel, EchoMessageResponseModel,
		func() eventstreamrpc.Shape { return &EchoMessageResponse{} })
	CauseServiceErrorModel = operationModel(CauseServiceErrorOperation, CauseServiceErrorRequestModel, CauseServiceErrorResponseModel,
		func() eventstreamrpc.Shape { return &CauseServiceErrorResponse{} })
	EchoStreamMessagesModel        = streamingOperationModel(EchoStreamMessagesOperation)
	CauseStreamServiceToErrorModel = streamingOperationModel(CauseStreamServiceToErrorOperation)
)

// Operations lists every operation model by name.
var Operations = map[string]*eventstreamrpc.OperationModel{
	GetAllProductsOperation:            GetAllProductsModel,
	GetAllCustomersOperation:           GetAllCustomersModel,
	EchoMessageOperation:               EchoMessageModel,
	EchoStreamMessagesOperation:        EchoStreamMessagesModel,
	CauseServiceErrorOperation:         CauseServiceErrorModel,
	CauseStreamServiceToErrorOperation: CauseStreamServiceToErrorModel,
}
