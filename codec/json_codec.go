package codec

import (
	"encoding/json"
)

// JSONCodec encodes the whole RPCMessage as a JSON object. Payload bytes become base64,
// so binary chunks grow by a third on the wire; size chunks with that in mind.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
