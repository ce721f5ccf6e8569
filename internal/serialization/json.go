package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONSerializer implements the Serializer interface using the encoding/json package.
// Payloads are compact JSON. Decoding rejects unknown fields so a payload
// decoded as the wrong credential shape fails loudly instead of yielding zero values.
type JSONSerializer struct{}

func (j JSONSerializer) Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize %T: %w", v, err)
	}
	return data, nil
}

func (j JSONSerializer) Deserialize(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("deserialize %T: %w", v, err)
	}
	if dec.More() {
		return fmt.Errorf("deserialize %T: trailing data", v)
	}
	return nil
}
