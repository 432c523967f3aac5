package eventstreamrpc

import (
	"bytes"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// Well-known header names and values.
const (
	MaxHeaderNameLength = 127

	EventStreamRPCVersionHeader = ":version"
	EventStreamRPCVersionString = "0.1.0"

	ContentTypeHeader          = ":content-type"
	ContentTypeApplicationJSON = "application/json"

	ServiceModelTypeHeader = "service-model-type"

	messageTypeHeader  = ":message-type"
	messageFlagsHeader = ":message-flags"
	streamIDHeader     = ":stream-id"
	operationHeader    = "operation"
)

// HeaderValueType is the typed kind of a header value.
type HeaderValueType int

const (
	HeaderValueBoolTrue HeaderValueType = iota
	HeaderValueBoolFalse
	HeaderValueByte
	HeaderValueInt16
	HeaderValueInt32
	HeaderValueInt64
	HeaderValueByteBuf
	HeaderValueString
	HeaderValueTimestamp
	HeaderValueUUID
	HeaderValueUnknown
)

// Header is an immutable named, typed value carried on a message.
type Header struct {
	name  string
	value eventstream.Value
}

// NewHeader returns a header; names longer than MaxHeaderNameLength bytes are truncated.
func NewHeader(name string, value eventstream.Value) Header {
	if len(name) > MaxHeaderNameLength {
		name = name[:MaxHeaderNameLength]
	}
	return Header{name: name, value: cloneValue(value)}
}

// NewStringHeader returns a string-typed header.
func NewStringHeader(name string, value string) Header {
	return NewHeader(name, eventstream.StringValue(value))
}

// NewInt32Header returns an int32-typed header.
func NewInt32Header(name string, value int32) Header {
	return NewHeader(name, eventstream.Int32Value(value))
}

// NewBoolHeader returns a bool-typed header.
func NewBoolHeader(name string, value bool) Header {
	return NewHeader(name, eventstream.BoolValue(value))
}

// NewBytesHeader returns a byte-buffer header holding a copy of value.
func NewBytesHeader(name string, value []byte) Header {
	return NewHeader(name, eventstream.BytesValue(value))
}

// NewTimestampHeader returns a timestamp-typed header.
func NewTimestampHeader(name string, value time.Time) Header {
	return NewHeader(name, eventstream.TimestampValue(value))
}

// Name returns the header name.
func (header Header) Name() string { return header.name }

// Value returns the underlying typed value.
func (header Header) Value() eventstream.Value { return header.value }

// ValueType returns the typed kind of the header value.
func (header Header) ValueType() HeaderValueType {
	switch value := header.value.(type) {
	case eventstream.BoolValue:
		if value {
			return HeaderValueBoolTrue
		}
		return HeaderValueBoolFalse
	case eventstream.Int8Value:
		return HeaderValueByte
	case eventstream.Int16Value:
		return HeaderValueInt16
	case eventstream.Int32Value:
		return HeaderValueInt32
	case eventstream.Int64Value:
		return HeaderValueInt64
	case eventstream.BytesValue:
		return HeaderValueByteBuf
	case eventstream.StringValue:
		return HeaderValueString
	case eventstream.TimestampValue:
		return HeaderValueTimestamp
	case eventstream.UUIDValue:
		return HeaderValueUUID
	}
	return HeaderValueUnknown
}

// GetValueAsString returns the value of a string-typed header. ok is false
// for every other value type.
func (header Header) GetValueAsString() (value string, ok bool) {
	str, ok := header.value.(eventstream.StringValue)
	if !ok {
		return "", false
	}
	return string(str), true
}

// GetValueAsInt32 returns the value of an int32-typed header.
func (header Header) GetValueAsInt32() (int32, bool) {
	value, ok := header.value.(eventstream.Int32Value)
	return int32(value), ok
}

// Equal reports whether both headers carry the same name and value.
func (header Header) Equal(other Header) bool {
	if header.name != other.name || header.ValueType() != other.ValueType() {
		return false
	}
	switch value := header.value.(type) {
	case eventstream.BytesValue:
		return bytes.Equal(value, other.value.(eventstream.BytesValue))
	case eventstream.TimestampValue:
		return time.Time(value).Equal(time.Time(other.value.(eventstream.TimestampValue)))
	case nil:
		return other.value == nil
	}
	return header.value == other.value
}

func (header Header) String() string {
	if header.value == nil {
		return header.name + ": <nil>"
	}
	return header.name + ": " + header.value.String()
}

// FindHeader returns the first header named name.
func FindHeader(headers []Header, name string) (Header, bool) {
	for _, header := range headers {
		if header.name == name {
			return header, true
		}
	}
	return Header{}, false
}

func cloneValue(value eventstream.Value) eventstream.Value {
	if buf, ok := value.(eventstream.BytesValue); ok {
		return eventstream.BytesValue(append([]byte(nil), buf...))
	}
	return value
}

func cloneHeaders(headers []Header) []Header {
	if len(headers) == 0 {
		return nil
	}
	cloned := make([]Header, len(headers))
	for index, header := range headers {
		cloned[index] = Header{name: header.name, value: cloneValue(header.value)}
	}
	return cloned
}

func toEventStreamHeaders(headers []Header) eventstream.Headers {
	converted := make(eventstream.Headers, 0, len(headers))
	for _, header := range headers {
		if header.value == nil {
			continue
		}
		converted = append(converted, eventstream.Header{Name: header.name, Value: header.value})
	}
	return converted
}

func fromEventStreamHeaders(headers eventstream.Headers) []Header {
	converted := make([]Header, 0, len(headers))
	for _, header := range headers {
		converted = append(converted, NewHeader(header.Name, header.Value))
	}
	return converted
}
