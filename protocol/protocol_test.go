package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	chunk := make([]byte, 64*1024)
	for i := range chunk {
		chunk[i] = byte(i % 251)
	}
	cases := []struct {
		name string
		h    Header
		body []byte
	}{
		{"request", Header{CodecType: CodecTypeJSON, MsgType: MsgTypeRequest, Seq: 12345}, []byte(`{"binary_transfer_uuid":"x"}`)},
		{"response chunk", Header{CodecType: CodecTypeBinary, MsgType: MsgTypeResponse, Seq: 1 << 31}, chunk},
		{"heartbeat", Header{CodecType: CodecTypeJSON, MsgType: MsgTypeHeartbeat}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, &tc.h, tc.body); err != nil {
				t.Fatal(err)
			}
			if buf.Len() != HeaderSize+len(tc.body) {
				t.Fatalf("frame is %d bytes, want %d", buf.Len(), HeaderSize+len(tc.body))
			}
			h, body, err := Decode(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if h.CodecType != tc.h.CodecType || h.MsgType != tc.h.MsgType || h.Seq != tc.h.Seq {
				t.Fatalf("header = %+v, want %+v", h, tc.h)
			}
			if h.BodyLen != uint32(len(tc.body)) || !bytes.Equal(body, tc.body) {
				t.Fatalf("body mismatch: %d bytes", len(body))
			}
		})
	}
}

// Back-to-back frames on one stream decode independently.
func TestDecodeSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	for seq := uint32(1); seq <= 3; seq++ {
		body := bytes.Repeat([]byte{byte(seq)}, int(seq)*10)
		if err := Encode(&buf, &Header{MsgType: MsgTypeRequest, Seq: seq}, body); err != nil {
			t.Fatal(err)
		}
	}
	for seq := uint32(1); seq <= 3; seq++ {
		h, body, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if h.Seq != seq || len(body) != int(seq)*10 {
			t.Fatalf("frame %d: seq %d, %d bytes", seq, h.Seq, len(body))
		}
	}
	if _, _, err := Decode(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expect io.EOF after the last frame, got %v", err)
	}
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		Encode(&buf, &Header{CodecType: CodecTypeJSON, MsgType: MsgTypeRequest, Seq: 7}, []byte("payload"))
		return buf.Bytes()
	}
	cases := []struct {
		name   string
		mutate func(b []byte) []byte
		want   string
	}{
		{"magic", func(b []byte) []byte { b[0] = 0; return b }, "invalid magic number"},
		{"version", func(b []byte) []byte { b[3] = 0xFF; return b }, "unsupported version"},
		{"codec", func(b []byte) []byte { b[4] = 9; return b }, "unsupported codec type"},
		{"message type", func(b []byte) []byte { b[5] = 9; return b }, "unsupported message type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(bytes.NewReader(tc.mutate(valid())))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expect %q, got %v", tc.want, err)
			}
		})
	}

	t.Run("truncated body", func(t *testing.T) {
		b := valid()
		_, _, err := Decode(bytes.NewReader(b[:len(b)-2]))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
		}
	})
	t.Run("truncated header", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader(valid()[:HeaderSize-1]))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
		}
	})
}

func TestBodyCeiling(t *testing.T) {
	h := &Header{CodecType: CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 1}

	t.Run("encode refuses and writes nothing", func(t *testing.T) {
		var buf bytes.Buffer
		err := EncodeLimit(&buf, h, make([]byte, 129), 128)
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Fatalf("expect ErrBodyTooLarge, got %v", err)
		}
		if buf.Len() != 0 {
			t.Fatalf("%d bytes written for a rejected frame", buf.Len())
		}
	})
	t.Run("exactly at the ceiling passes", func(t *testing.T) {
		var buf bytes.Buffer
		if err := EncodeLimit(&buf, h, make([]byte, 128), 128); err != nil {
			t.Fatal(err)
		}
		if _, _, err := DecodeLimit(&buf, 128); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("decode refuses before reading the body", func(t *testing.T) {
		var buf bytes.Buffer
		if err := EncodeLimit(&buf, h, make([]byte, 256), 0); err != nil {
			t.Fatal(err)
		}
		_, _, err := DecodeLimit(&buf, 128)
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Fatalf("expect ErrBodyTooLarge, got %v", err)
		}
		if buf.Len() != 256 {
			t.Fatalf("body consumed: %d bytes left", buf.Len())
		}
	})
	t.Run("default ceiling", func(t *testing.T) {
		var buf bytes.Buffer
		err := Encode(&buf, h, make([]byte, DefaultMaxBodyLen+1))
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Fatalf("expect ErrBodyTooLarge, got %v", err)
		}
	})
}
