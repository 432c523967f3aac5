package eventstreamrpc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodecRoundTrip(t *testing.T) {
	codec := NewFrameCodec()
	frame := Frame{
		MessageArgs: MessageArgs{
			Headers: []Header{
				NewStringHeader(ContentTypeHeader, ContentTypeApplicationJSON),
				NewInt32Header("attempt", 3),
				NewBytesHeader("raw", []byte{0xde, 0xad}),
			},
			Payload: []byte(`{"message":"hello"}`),
			Type:    MessageTypeApplicationMessage,
			Flags:   MessageFlagTerminateStream,
		},
		StreamID:  7,
		Operation: "awstest#EchoMessage",
	}

	var buffer bytes.Buffer
	require.NoError(t, codec.WriteFrame(&buffer, frame))
	require.NoError(t, codec.WriteFrame(&buffer, Frame{MessageArgs: MessageArgs{Type: MessageTypePing}}))

	decoded, err := codec.ReadFrame(&buffer)
	require.NoError(t, err)
	assert.Equal(t, frame.Type, decoded.Type)
	assert.Equal(t, frame.Flags, decoded.Flags)
	assert.Equal(t, frame.StreamID, decoded.StreamID)
	assert.Equal(t, frame.Operation, decoded.Operation)
	assert.Equal(t, frame.Payload, decoded.Payload)
	require.Len(t, decoded.Headers, 3, "envelope headers are not exposed as application headers")
	for index, header := range frame.Headers {
		assert.True(t, header.Equal(decoded.Headers[index]), "header %s", header.Name())
	}

	ping, err := codec.ReadFrame(&buffer)
	require.NoError(t, err)
	assert.Equal(t, MessageTypePing, ping.Type)
	assert.Equal(t, int32(0), ping.StreamID)
	assert.Nil(t, ping.Payload)
	assert.Empty(t, ping.Headers)
}

func TestFrameCodecRejectsMissingEnvelope(t *testing.T) {
	var buffer bytes.Buffer
	err := eventstream.NewEncoder().Encode(&buffer, eventstream.Message{
		Headers: eventstream.Headers{{Name: "other", Value: eventstream.StringValue("x")}},
		Payload: []byte("{}"),
	})
	require.NoError(t, err)

	_, err = NewFrameCodec().ReadFrame(&buffer)
	var engineErr *EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, EngineErrorProtocol, engineErr.Code)
}

func TestFrameCodecRejectsWrongEnvelopeType(t *testing.T) {
	var buffer bytes.Buffer
	err := eventstream.NewEncoder().Encode(&buffer, eventstream.Message{
		Headers: eventstream.Headers{
			{Name: messageTypeHeader, Value: eventstream.StringValue("PING")},
			{Name: streamIDHeader, Value: eventstream.Int32Value(0)},
		},
	})
	require.NoError(t, err)

	_, err = NewFrameCodec().ReadFrame(&buffer)
	assert.Error(t, err)
}

func TestFrameCodecReadsTruncatedInput(t *testing.T) {
	encoded, err := NewFrameCodec().EncodeFrame(Frame{MessageArgs: MessageArgs{Type: MessageTypeConnect}})
	require.NoError(t, err)

	_, err = NewFrameCodec().ReadFrame(bytes.NewReader(encoded[:len(encoded)-3]))
	assert.Error(t, err)
}
