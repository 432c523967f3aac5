package eventstreamrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMessage(t *testing.T) {
	assert.Equal(t, messageClassInitialResponse, classifyMessage(MessageArgs{Type: MessageTypeApplicationMessage}, true))
	assert.Equal(t, messageClassStreamingEvent, classifyMessage(MessageArgs{Type: MessageTypeApplicationMessage}, false))
	assert.Equal(t, messageClassOperationError, classifyMessage(MessageArgs{Type: MessageTypeApplicationError}, true))
	assert.Equal(t, messageClassOperationError, classifyMessage(MessageArgs{Type: MessageTypeApplicationError}, false))
}

func TestDeserializeMessageValidation(t *testing.T) {
	model := testOperationModel()
	log := defaultLog()

	cases := []struct {
		name     string
		message  MessageArgs
		initial  bool
		expected StatusCode
	}{
		{
			name:     "missing model header",
			message:  MessageArgs{Headers: []Header{NewStringHeader(ContentTypeHeader, ContentTypeApplicationJSON)}},
			initial:  true,
			expected: StatusUnmappedData,
		},
		{
			name:     "initial model mismatch",
			message:  modeledMessage("test#Event", `{}`, MessageTypeApplicationMessage, 0),
			initial:  true,
			expected: StatusUnmappedData,
		},
		{
			name:     "streaming model mismatch",
			message:  modeledMessage("test#Response", `{}`, MessageTypeApplicationMessage, 0),
			expected: StatusUnmappedData,
		},
		{
			name:     "missing content type",
			message:  MessageArgs{Headers: []Header{NewStringHeader(ServiceModelTypeHeader, "test#Response")}},
			initial:  true,
			expected: StatusUnsupportedContentType,
		},
		{
			name: "wrong content type",
			message: MessageArgs{Headers: []Header{
				NewStringHeader(ServiceModelTypeHeader, "test#Response"),
				NewStringHeader(ContentTypeHeader, "text/plain"),
			}},
			initial:  true,
			expected: StatusUnsupportedContentType,
		},
		{
			name: "content type is not a string",
			message: MessageArgs{Headers: []Header{
				NewStringHeader(ServiceModelTypeHeader, "test#Response"),
				NewInt32Header(ContentTypeHeader, 1),
			}},
			initial:  true,
			expected: StatusUnsupportedContentType,
		},
		{
			name:     "undecodable payload",
			message:  modeledMessage("test#Response", `{"value":`, MessageTypeApplicationMessage, 0),
			initial:  true,
			expected: StatusAllocationError,
		},
		{
			name:     "unmapped error model",
			message:  modeledMessage("test#Other", `{}`, MessageTypeApplicationError, 0),
			initial:  true,
			expected: StatusUnmappedData,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := deserializeMessage(model, tc.message, tc.initial, log)
			require.Equal(t, RPCError, result.ResultType())
			assert.Equal(t, tc.expected, result.RpcError().StatusCode)
		})
	}
}

func TestDeserializeMessageChecksModelBeforeContentType(t *testing.T) {
	message := MessageArgs{Headers: []Header{NewStringHeader(ServiceModelTypeHeader, "test#Event")}}
	result := deserializeMessage(testOperationModel(), message, true, defaultLog())
	assert.Equal(t, StatusUnmappedData, result.RpcError().StatusCode)
}

func TestDeserializeMessageResults(t *testing.T) {
	model := testOperationModel()
	log := defaultLog()

	initial := deserializeMessage(model, modeledMessage("test#Response", `{"value":"v"}`, MessageTypeApplicationMessage, 0), true, log)
	require.True(t, initial.OK())
	assert.Equal(t, &testResponse{Value: "v"}, initial.OperationResponse())

	empty := deserializeMessage(model, modeledMessage("test#Response", ``, MessageTypeApplicationMessage, 0), true, log)
	require.True(t, empty.OK())
	assert.Equal(t, &testResponse{}, empty.OperationResponse())

	event := deserializeMessage(model, modeledMessage("test#Event", `{"sequence":3}`, MessageTypeApplicationMessage, 0), false, log)
	require.True(t, event.OK())
	assert.Equal(t, &testEvent{Sequence: 3}, event.OperationResponse())

	failure := deserializeMessage(model, modeledMessage("test#Failure", `{"message":"m"}`, MessageTypeApplicationError, 0), false, log)
	require.Equal(t, OperationErrorResult, failure.ResultType())
	assert.Equal(t, &testFailure{Message: "m"}, failure.OperationError())
}

func TestDeserializeMessageWithoutStreamingModel(t *testing.T) {
	model := testOperationModel()
	model.StreamingResponseModel = ""
	model.NewStreamingResponse = nil

	result := deserializeMessage(model, modeledMessage("test#Anything", `{}`, MessageTypeApplicationMessage, 0), false, defaultLog())
	require.Equal(t, RPCError, result.ResultType())
	assert.Equal(t, StatusAllocationError, result.RpcError().StatusCode, "no streaming factory to build the event")
}

func TestDeserializeMessageWithoutModel(t *testing.T) {
	result := deserializeMessage(nil, MessageArgs{}, true, defaultLog())
	assert.Equal(t, StatusUninitialized, result.RpcError().StatusCode)
}
