package wire

import (
	"github.com/go-json-experiment/json"
)

// Encode serialises a value to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserialises JSON bytes into the given target.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// DecodeEnvelope parses an inbound request body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
