package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype clients select with
// grpc.CallContentSubtype(CodecName).
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries procedure inputs and outputs as plain JSON. A
// *json.RawMessage is passed through unchanged.
type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *json.RawMessage:
		if m == nil {
			return nil, nil
		}
		return *m, nil
	case json.RawMessage:
		return m, nil
	}
	return json.Marshal(v)
}

// Unmarshal leaves v untouched for an empty payload, which is how a nil
// result or a missing input travels.
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}
