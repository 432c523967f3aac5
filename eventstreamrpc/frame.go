package eventstreamrpc

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// Frame is one RPC message as it travels on a channel: the envelope plus the
// stream it belongs to. StreamID 0 addresses the connection itself.
type Frame struct {
	MessageArgs
	StreamID  int32
	Operation string
}

// FrameCodec converts frames to and from the event-stream binary encoding.
// Reads and writes may happen concurrently; each direction is serialized.
type FrameCodec struct {
	encodeLock sync.Mutex
	encoder    *eventstream.Encoder
	buffer     bytes.Buffer

	decodeLock sync.Mutex
	decoder    *eventstream.Decoder
	payloadBuf []byte
}

// NewFrameCodec returns a codec with fresh encoder and decoder state.
func NewFrameCodec() *FrameCodec {
	return &FrameCodec{
		encoder:    eventstream.NewEncoder(),
		decoder:    eventstream.NewDecoder(),
		payloadBuf: make([]byte, 10*1024),
	}
}

// EncodeFrame returns the binary encoding of frame.
func (codec *FrameCodec) EncodeFrame(frame Frame) ([]byte, error) {
	codec.encodeLock.Lock()
	defer codec.encodeLock.Unlock()

	codec.buffer.Reset()
	if err := codec.encoder.Encode(&codec.buffer, toEventStreamMessage(frame)); err != nil {
		return nil, NewEngineError(EngineErrorEncode, "encode frame", err)
	}
	return append([]byte(nil), codec.buffer.Bytes()...), nil
}

// WriteFrame encodes frame into writer.
func (codec *FrameCodec) WriteFrame(writer io.Writer, frame Frame) error {
	encoded, err := codec.EncodeFrame(frame)
	if err != nil {
		return err
	}
	_, err = writer.Write(encoded)
	return err
}

// ReadFrame decodes the next frame from reader.
func (codec *FrameCodec) ReadFrame(reader io.Reader) (Frame, error) {
	codec.decodeLock.Lock()
	defer codec.decodeLock.Unlock()

	message, err := codec.decoder.Decode(reader, codec.payloadBuf)
	if err != nil {
		return Frame{}, err
	}
	return fromEventStreamMessage(message)
}

func toEventStreamMessage(frame Frame) eventstream.Message {
	headers := make(eventstream.Headers, 0, len(frame.Headers)+4)
	headers = append(headers,
		eventstream.Header{Name: messageTypeHeader, Value: eventstream.Int32Value(frame.Type)},
		eventstream.Header{Name: messageFlagsHeader, Value: eventstream.Int32Value(frame.Flags)},
		eventstream.Header{Name: streamIDHeader, Value: eventstream.Int32Value(frame.StreamID)},
	)
	if frame.Operation != "" {
		headers = append(headers, eventstream.Header{Name: operationHeader, Value: eventstream.StringValue(frame.Operation)})
	}
	headers = append(headers, toEventStreamHeaders(frame.Headers)...)

	return eventstream.Message{Headers: headers, Payload: frame.Payload}
}

func fromEventStreamMessage(message eventstream.Message) (Frame, error) {
	frame := Frame{}
	var sawType, sawStream bool
	application := make(eventstream.Headers, 0, len(message.Headers))

	for _, header := range message.Headers {
		switch header.Name {
		case messageTypeHeader:
			value, ok := header.Value.(eventstream.Int32Value)
			if !ok {
				return Frame{}, fmt.Errorf("header %s has type %T", header.Name, header.Value)
			}
			frame.Type = MessageType(value)
			sawType = true
		case messageFlagsHeader:
			value, ok := header.Value.(eventstream.Int32Value)
			if !ok {
				return Frame{}, fmt.Errorf("header %s has type %T", header.Name, header.Value)
			}
			frame.Flags = MessageFlags(value)
		case streamIDHeader:
			value, ok := header.Value.(eventstream.Int32Value)
			if !ok {
				return Frame{}, fmt.Errorf("header %s has type %T", header.Name, header.Value)
			}
			frame.StreamID = int32(value)
			sawStream = true
		case operationHeader:
			if value, ok := header.Value.(eventstream.StringValue); ok {
				frame.Operation = string(value)
			}
		default:
			application = append(application, header)
		}
	}

	if !sawType || !sawStream {
		return Frame{}, NewEngineError(EngineErrorProtocol, "decode frame",
			fmt.Errorf("missing %s or %s header", messageTypeHeader, streamIDHeader))
	}

	frame.Headers = fromEventStreamHeaders(application)
	if len(message.Payload) > 0 {
		frame.Payload = append([]byte(nil), message.Payload...)
	}
	return frame, nil
}
