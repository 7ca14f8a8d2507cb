package datatype

import (
	"errors"
	"fmt"

	"sila-rpc/blob"
)

// StringMessage is the wire form of a SiLA String.
type StringMessage struct {
	Value string `json:"value"`
}

// String is the identity conversion between StringMessage and string.
type String struct{}

func (String) ToMessage(v string, _ Origin) (StringMessage, error) {
	return StringMessage{Value: v}, nil
}

func (String) ToNative(m StringMessage, _ Origin) (string, error) {
	return m.Value, nil
}

// IntegerMessage is the wire form of a SiLA Integer.
type IntegerMessage struct {
	Value int64 `json:"value"`
}

// Integer is the identity conversion between IntegerMessage and int64.
type Integer struct{}

func (Integer) ToMessage(v int64, _ Origin) (IntegerMessage, error) {
	return IntegerMessage{Value: v}, nil
}

func (Integer) ToNative(m IntegerMessage, _ Origin) (int64, error) {
	return m.Value, nil
}

// BinaryMessage carries either the bytes inline or a reference into a blob.Store.
// At most one of the two is set.
type BinaryMessage struct {
	Value              []byte `json:"value,omitempty"`
	BinaryTransferUUID string `json:"binary_transfer_uuid,omitempty"`
}

// ErrAmbiguousBinary is returned for a BinaryMessage with both fields set.
var ErrAmbiguousBinary = errors.New("datatype: binary message carries both value and reference")

// Binary sends payloads up to InlineLimit inline and registers larger ones in Store.
// A zero InlineLimit means DefaultInlineLimit, a negative one registers every payload.
// A nil Store sends everything inline and refuses references.
type Binary struct {
	Store       *blob.Store
	InlineLimit int
}

// DefaultInlineLimit keeps an inline value together with its JSON framing under
// the default frame ceiling.
const DefaultInlineLimit = blob.DefaultMaxChunkSize

func (b Binary) inline(v []byte) bool {
	switch {
	case b.Store == nil:
		return true
	case b.InlineLimit < 0:
		return false
	case b.InlineLimit == 0:
		return len(v) <= DefaultInlineLimit
	}
	return len(v) <= b.InlineLimit
}

func (b Binary) ToMessage(v []byte, origin Origin) (BinaryMessage, error) {
	if b.inline(v) {
		return BinaryMessage{Value: v}, nil
	}
	id, err := b.Store.Register(v)
	if err != nil {
		return BinaryMessage{}, fmt.Errorf("datatype: registering %s: %w", origin, err)
	}
	return BinaryMessage{BinaryTransferUUID: id}, nil
}

// ToNative returns the inline bytes or resolves the reference. An absent reference
// fails with a SiLA defined execution error for InvalidBinaryTransferUUID.
func (b Binary) ToNative(m BinaryMessage, _ Origin) ([]byte, error) {
	if m.BinaryTransferUUID == "" {
		return m.Value, nil
	}
	if len(m.Value) > 0 {
		return nil, ErrAmbiguousBinary
	}
	if b.Store == nil {
		return nil, blob.ToSila(fmt.Errorf("%w: %q (no store)", blob.ErrInvalidBinaryTransferUUID, m.BinaryTransferUUID))
	}
	data, err := b.Store.Resolve(m.BinaryTransferUUID)
	if err != nil {
		return nil, blob.ToSila(err)
	}
	return data, nil
}
