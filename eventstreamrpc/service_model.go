package eventstreamrpc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// Shape is a modeled request, response, or event.
type Shape interface {
	ModelName() string
}

// OperationError is a modeled error returned by the service.
type OperationError interface {
	Shape
	// ErrorMessage returns the server supplied message, if any.
	ErrorMessage() (string, bool)
}

// ServiceModel builds modeled errors shared by all operations of a service.
type ServiceModel interface {
	AllocateOperationErrorFromPayload(modelName string, payload []byte) (OperationError, error)
}

// OperationModelContext describes one operation of a service.
type OperationModelContext interface {
	AllocateInitialResponseFromPayload(payload []byte) (Shape, error)
	AllocateStreamingResponseFromPayload(payload []byte) (Shape, error)
	AllocateOperationErrorFromPayload(modelName string, payload []byte) (OperationError, error)
	InitialResponseModelName() string
	RequestModelName() string
	// StreamingResponseModelName reports false for operations without a stream.
	StreamingResponseModelName() (string, bool)
	OperationName() string
}

// ErrUnknownModel is returned when no factory is registered for a model name.
var ErrUnknownModel = errors.New("unknown model")

// JSONServiceModel is a ServiceModel whose errors are JSON documents.
type JSONServiceModel struct {
	lock   sync.RWMutex
	errors map[string]func() OperationError
}

// NewJSONServiceModel returns an empty model.
func NewJSONServiceModel() *JSONServiceModel {
	return &JSONServiceModel{errors: make(map[string]func() OperationError)}
}

// RegisterError maps modelName to a factory returning a pointer to decode into.
func (model *JSONServiceModel) RegisterError(modelName string, factory func() OperationError) *JSONServiceModel {
	model.lock.Lock()
	model.errors[modelName] = factory
	model.lock.Unlock()
	return model
}

// AllocateOperationErrorFromPayload decodes payload as the error named modelName.
func (model *JSONServiceModel) AllocateOperationErrorFromPayload(modelName string, payload []byte) (OperationError, error) {
	model.lock.RLock()
	factory, ok := model.errors[modelName]
	model.lock.RUnlock()
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}

	operationError := factory()
	if err := decodeShape(payload, operationError); err != nil {
		return nil, err
	}
	return operationError, nil
}

// OperationModel is an OperationModelContext assembled from factories.
type OperationModel struct {
	Name                   string
	RequestModel           string
	InitialResponseModel   string
	StreamingResponseModel string

	NewInitialResponse   func() Shape
	NewStreamingResponse func() Shape
	Service              ServiceModel
}

func (model *OperationModel) AllocateInitialResponseFromPayload(payload []byte) (Shape, error) {
	return allocateShape(model.NewInitialResponse, model.InitialResponseModel, payload)
}

func (model *OperationModel) AllocateStreamingResponseFromPayload(payload []byte) (Shape, error) {
	return allocateShape(model.NewStreamingResponse, model.StreamingResponseModel, payload)
}

func (model *OperationModel) AllocateOperationErrorFromPayload(modelName string, payload []byte) (OperationError, error) {
	if model.Service == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	return model.Service.AllocateOperationErrorFromPayload(modelName, payload)
}

func (model *OperationModel) InitialResponseModelName() string { return model.InitialResponseModel }

func (model *OperationModel) RequestModelName() string { return model.RequestModel }

func (model *OperationModel) StreamingResponseModelName() (string, bool) {
	return model.StreamingResponseModel, model.StreamingResponseModel != ""
}

func (model *OperationModel) OperationName() string { return model.Name }

func allocateShape(factory func() Shape, modelName string, payload []byte) (Shape, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	shape := factory()
	if err := decodeShape(payload, shape); err != nil {
		return nil, err
	}
	return shape, nil
}

// decodeShape treats a missing payload as an empty object.
func decodeShape(payload []byte, shape any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, shape); err != nil {
		return fmt.Errorf("decode shape: %w", err)
	}
	return nil
}

// EncodeShape returns the JSON payload for shape.
func EncodeShape(shape Shape) ([]byte, error) {
	if shape == nil {
		return nil, errors.New("nil shape")
	}
	return json.Marshal(shape)
}
