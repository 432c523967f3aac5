package eventstreamrpc

import (
	"bytes"
	"testing"
)

func benchmarkFrame() Frame {
	message := modeledMessage("test#Request", `{"value":"benchmark payload"}`, MessageTypeApplicationMessage, 0)
	return Frame{MessageArgs: message, StreamID: 7, Operation: "test#Operation"}
}

func BenchmarkFrameEncode(b *testing.B) {
	codec := NewFrameCodec()
	frame := benchmarkFrame()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := codec.EncodeFrame(frame); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFrameDecode(b *testing.B) {
	codec := NewFrameCodec()
	encoded, err := codec.EncodeFrame(benchmarkFrame())
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := codec.ReadFrame(bytes.NewReader(encoded)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDeserializeInitialResponse(b *testing.B) {
	model := testOperationModel()
	message := modeledMessage("test#Response", `{"value":"benchmark payload"}`, MessageTypeApplicationMessage, 0)
	log := defaultLog()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if result := deserializeMessage(model, message, true, log); !result.OK() {
			b.Fatalf("unexpected result %v", result.RpcError())
		}
	}
}

func BenchmarkFindHeader(b *testing.B) {
	headers := modeledMessage("test#Response", "", MessageTypeApplicationMessage, 0).Headers
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, ok := FindHeader(headers, ServiceModelTypeHeader); !ok {
			b.Fatal("header not found")
		}
	}
}
