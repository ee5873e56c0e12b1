package connect

import (
	"encoding/json"
)

// CodecName is the codec name negotiated in the content type.
const CodecName = "json"

// jsonCodec marshals plain Go structs so the service needs no generated
// message types.
type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
