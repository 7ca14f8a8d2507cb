// Package protocol implements the custom binary frame protocol for sila-rpc.
//
// It solves TCP's sticky packet problem by using a fixed-size 14-byte header
// followed by a variable-length body. The receiver reads the header first to
// determine the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ srp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Every frame is subject to a body ceiling. Payloads that would not fit travel as
// binary references and are streamed in chunks by the binarytransfer services.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "srp" (sila rpc protocol).
const (
	MagicNumber byte = 0x73 // 's'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// DefaultMaxBodyLen matches the usual gRPC receive limit.
	DefaultMaxBodyLen uint32 = 4 << 20
)

// ErrBodyTooLarge is returned when a frame body exceeds the configured ceiling.
var ErrBodyTooLarge = errors.New("protocol: frame body too large")

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server RPC request
	MsgTypeResponse  MsgType = 1 // Server → Client RPC response
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // Sequence ID, matches request ↔ response
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame using DefaultMaxBodyLen.
func Encode(w io.Writer, h *Header, body []byte) error {
	return EncodeLimit(w, h, body, DefaultMaxBodyLen)
}

// EncodeLimit writes a complete frame (header + body) to w, refusing bodies above maxBody.
// A zero maxBody disables the check.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func EncodeLimit(w io.Writer, h *Header, body []byte, maxBody uint32) error {
	if maxBody > 0 && uint64(len(body)) > uint64(maxBody) {
		return fmt.Errorf("%w: %d > %d bytes", ErrBodyTooLarge, len(body), maxBody)
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	// Single write so a frame is never split across two writes on the conn.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame using DefaultMaxBodyLen.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, DefaultMaxBodyLen)
}

// DecodeLimit reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and body ceiling
// before allocating the body. A zero maxBody disables the ceiling.
func DecodeLimit(r io.Reader, maxBody uint32) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeResponse) && msgType != byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if maxBody > 0 && bodyLen > maxBody {
		return nil, nil, fmt.Errorf("%w: %d > %d bytes", ErrBodyTooLarge, bodyLen, maxBody)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
