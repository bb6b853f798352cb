package connect

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// codecName replaces connect's built-in protojson codec, which only accepts
// proto messages.
const codecName = "json"

// JSONCodec encodes plain Go message structs as JSON.
type JSONCodec struct{}

// Name returns the codec name used in the content type.
func (JSONCodec) Name() string {
	return codecName
}

// Marshal encodes message.
func (JSONCodec) Marshal(message any) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %T", message)
	}
	return data, nil
}

// Unmarshal decodes data into message. An empty body leaves message zero.
func (JSONCodec) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, message); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %T", message)
	}
	return nil
}
