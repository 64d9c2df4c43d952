package grpcsvc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName — content-subtype сообщений API: application/grpc+json.
const codecName = "json"

// jsonCodec кодирует сообщения API в JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
