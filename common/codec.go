package common

import (
	"encoding/json"
	"fmt"
)

// Codec encodes request bodies and decodes response bodies.
type Codec interface {
	ContentType() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// JSONCodec is the default body codec.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(v any) ([]byte, error) {
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, out any) error {
	if raw, ok := out.(*[]byte); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
