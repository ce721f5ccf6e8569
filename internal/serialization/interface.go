package serialization

// Serializer defines an interface for converting credential values and
// generation parameters to and from the byte form that gets encrypted.
type Serializer interface {
	// Serialize takes any value and returns its byte representation and an error
	// if serialization fails.
	Serialize(v any) ([]byte, error)

	// Deserialize takes a byte array and a pointer to the target value
	// and populates it with the deserialized data.
	Deserialize(data []byte, v any) error
}
