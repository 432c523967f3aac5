package eventstreamrpc

import (
	"github.com/sirupsen/logrus"
)

// messageClass is where an inbound continuation message is routed.
type messageClass int

const (
	messageClassInitialResponse messageClass = iota
	messageClassStreamingEvent
	messageClassOperationError
)

// classifyMessage decides where message goes: the activation result
// (initial) or the stream handler, and whether it carries an error.
func classifyMessage(message MessageArgs, initial bool) messageClass {
	if message.Type != MessageTypeApplicationMessage {
		return messageClassOperationError
	}
	if initial {
		return messageClassInitialResponse
	}
	return messageClassStreamingEvent
}

// deserializeMessage validates the envelope of message and builds the
// modeled shape it carries. Validation order: model header, model name,
// content type, then the payload itself.
func deserializeMessage(model OperationModelContext, message MessageArgs, initial bool, log *logrus.Entry) TaggedResult {
	if model == nil {
		return NewRPCErrorResult(rpcStatus(StatusUninitialized))
	}
	class := classifyMessage(message, initial)

	modelHeader, ok := FindHeader(message.Headers, ServiceModelTypeHeader)
	if !ok {
		log.Errorf("A required header (%s) could not be found in the message.", ServiceModelTypeHeader)
		return NewRPCErrorResult(rpcStatus(StatusUnmappedData))
	}
	modelName, _ := modelHeader.GetValueAsString()

	switch class {
	case messageClassInitialResponse:
		if model.InitialResponseModelName() != modelName {
			log.WithField("model", modelName).Error("The model name of the initial response did not match its expected model name.")
			return NewRPCErrorResult(rpcStatus(StatusUnmappedData))
		}
	case messageClassStreamingEvent:
		if expected, declared := model.StreamingResponseModelName(); declared && expected != modelName {
			log.WithField("model", modelName).Error("The model name of a subsequent response did not match its expected model name.")
			return NewRPCErrorResult(rpcStatus(StatusUnmappedData))
		}
	}

	contentHeader, ok := FindHeader(message.Headers, ContentTypeHeader)
	if !ok {
		log.Errorf("A required header (%s) could not be found in the message.", ContentTypeHeader)
		return NewRPCErrorResult(rpcStatus(StatusUnsupportedContentType))
	}
	if contentType, isString := contentHeader.GetValueAsString(); !isString || contentType != ContentTypeApplicationJSON {
		log.Errorf("The content type (%s) header was specified with an unsupported value (%v).", ContentTypeHeader, contentHeader.Value())
		return NewRPCErrorResult(rpcStatus(StatusUnsupportedContentType))
	}

	switch class {
	case messageClassInitialResponse:
		response, err := model.AllocateInitialResponseFromPayload(message.Payload)
		if err != nil || response == nil {
			log.WithError(err).Error("Failed to allocate a response from the payload.")
			return NewRPCErrorResult(rpcStatus(StatusAllocationError))
		}
		return NewResponseResult(response)
	case messageClassStreamingEvent:
		response, err := model.AllocateStreamingResponseFromPayload(message.Payload)
		if err != nil || response == nil {
			log.WithError(err).Error("Failed to allocate a response from the payload.")
			return NewRPCErrorResult(rpcStatus(StatusAllocationError))
		}
		return NewResponseResult(response)
	}

	operationError, err := model.AllocateOperationErrorFromPayload(modelName, message.Payload)
	if err != nil || operationError == nil {
		log.WithError(err).WithField("model", modelName).Error("No operation error is mapped to the model name.")
		return NewRPCErrorResult(rpcStatus(StatusUnmappedData))
	}
	if text, ok := operationError.ErrorMessage(); ok {
		log.Errorf("An error was received from the server: %s", text)
	}
	return NewOperationErrorResult(operationError)
}
