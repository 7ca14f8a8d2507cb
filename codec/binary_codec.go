package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sila-rpc/message"

	"google.golang.org/grpc/codes"
)

var errShortBuffer = errors.New("BinaryCodec: truncated message")

// BinaryCodec lays an RPCMessage out as length-prefixed fields:
//
//	u16 method len | method | u32 payload len | payload | u8 status | u32 error len | error
//
// The error length is 32-bit because an encoded error envelope may exceed 64 KiB.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *RPCMessage
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}
	if len(msg.ServiceMethod) > 0xFFFF {
		return nil, fmt.Errorf("BinaryCodec: service method too long (%d bytes)", len(msg.ServiceMethod))
	}
	if msg.Status > 0xFF {
		return nil, fmt.Errorf("BinaryCodec: status %d out of range", msg.Status)
	}
	total := 2 + len(msg.ServiceMethod) + 4 + len(msg.Payload) + 1 + 4 + len(msg.Error)
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.ServiceMethod)))
	offset += 2
	offset += copy(buf[offset:], msg.ServiceMethod)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(msg.Payload)))
	offset += 4
	offset += copy(buf[offset:], msg.Payload)

	buf[offset] = byte(msg.Status)
	offset++

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(msg.Error)))
	offset += 4
	copy(buf[offset:], msg.Error)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *RPCMessage
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	offset := 0
	need := func(n int) error {
		if len(data)-offset < n {
			return errShortBuffer
		}
		return nil
	}

	if err := need(2); err != nil {
		return err
	}
	strLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	if err := need(strLen); err != nil {
		return err
	}
	msg.ServiceMethod = string(data[offset : offset+strLen])
	offset += strLen

	if err := need(4); err != nil {
		return err
	}
	payloadLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if err := need(payloadLen); err != nil {
		return err
	}
	msg.Payload = make([]byte, payloadLen)
	copy(msg.Payload, data[offset:offset+payloadLen])
	offset += payloadLen

	if err := need(1); err != nil {
		return err
	}
	msg.Status = codes.Code(data[offset])
	offset++

	if err := need(4); err != nil {
		return err
	}
	errLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if err := need(errLen); err != nil {
		return err
	}
	msg.Error = string(data[offset : offset+errLen])

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
