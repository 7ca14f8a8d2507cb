package codec

import (
	"bytes"
	"sila-rpc/message"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
)

func sampleMessages() []*message.RPCMessage {
	return []*message.RPCMessage{
		{
			ServiceMethod: "BinaryDownload.GetChunk",
			Payload:       []byte(`{"binary_transfer_uuid":"abc123","offset":0,"length":16}`),
		},
		{
			ServiceMethod: "BinaryUpload.UploadChunk",
			Status:        codes.Aborted,
			Error:         strings.Repeat("QUJD", 20000), // longer than a u16 length prefix
		},
		{},
	}
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}
	for _, originalMsg := range sampleMessages() {
		data, err := jsonCodec.Encode(originalMsg)
		if err != nil {
			t.Fatalf("JSONCodec Encode failed: %v", err)
		}
		var decodedMsg message.RPCMessage
		if err := jsonCodec.Decode(data, &decodedMsg); err != nil {
			t.Fatalf("JSONCodec Decode failed: %v", err)
		}
		assertSame(t, originalMsg, &decodedMsg)
	}
}

func TestBinaryCodec(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	for _, originalMsg := range sampleMessages() {
		data, err := binaryCodec.Encode(originalMsg)
		if err != nil {
			t.Fatalf("BinaryCodec Encode failed: %v", err)
		}
		var decodedMsg message.RPCMessage
		if err := binaryCodec.Decode(data, &decodedMsg); err != nil {
			t.Fatalf("BinaryCodec Decode failed: %v", err)
		}
		assertSame(t, originalMsg, &decodedMsg)
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	data, err := binaryCodec.Encode(sampleMessages()[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 1, 5, len(data) - 1} {
		var decodedMsg message.RPCMessage
		if err := binaryCodec.Decode(data[:n], &decodedMsg); err == nil {
			t.Fatalf("expect error decoding %d of %d bytes", n, len(data))
		}
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Fatal("expect JSON codec")
	}
	if GetCodec(CodecTypeBinary).Type() != CodecTypeBinary {
		t.Fatal("expect binary codec")
	}
}

func assertSame(t *testing.T, want, got *message.RPCMessage) {
	t.Helper()
	if want.ServiceMethod != got.ServiceMethod {
		t.Errorf("ServiceMethod mismatch: got %s, want %s", got.ServiceMethod, want.ServiceMethod)
	}
	if !bytes.Equal(want.Payload, got.Payload) {
		t.Errorf("Payload mismatch: got %q, want %q", got.Payload, want.Payload)
	}
	if want.Status != got.Status {
		t.Errorf("Status mismatch: got %v, want %v", got.Status, want.Status)
	}
	if want.Error != got.Error {
		t.Errorf("Error mismatch: got %d bytes, want %d bytes", len(got.Error), len(want.Error))
	}
}

func benchmarkCodec(b *testing.B, ct CodecType) {
	cdc := GetCodec(ct)
	msg := &message.RPCMessage{
		ServiceMethod: "BinaryUpload.UploadChunk",
		Payload:       bytes.Repeat([]byte("x"), 64*1024),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(msg)
		if err != nil {
			b.Fatal(err)
		}
		var out message.RPCMessage
		if err := cdc.Decode(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B)   { benchmarkCodec(b, CodecTypeJSON) }
func BenchmarkCodecBinary(b *testing.B) { benchmarkCodec(b, CodecTypeBinary) }
