// Package codec implements the opaque application codec collaborator:
// encode a typed value to bytes, decode bytes back to a typed value,
// surfacing encoding_failed/decoding_failed on error. It CBOR-marshals an
// arbitrary application value via reflection-based encode/decode into a
// caller-provided pointer.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodingError wraps a failure to encode an application value.
type EncodingError struct{ Err error }

func (e *EncodingError) Error() string { return fmt.Sprintf("codec: encoding_failed: %v", e.Err) }

// DecodingError wraps a failure to decode bytes into an application value.
type DecodingError struct{ Err error }

func (e *DecodingError) Error() string { return fmt.Sprintf("codec: decoding_failed: %v", e.Err) }

// Codec is the opaque application codec collaborator.
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, out interface{}) error
}

// CBOR is the default Codec.
type CBOR struct{}

// New returns the default CBOR-backed codec.
func New() CBOR { return CBOR{} }

// Encode marshals value to CBOR bytes.
func (CBOR) Encode(value interface{}) ([]byte, error) {
	b, err := cbor.Marshal(value)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return b, nil
}

// Decode unmarshals data into out, which must be a pointer.
func (CBOR) Decode(data []byte, out interface{}) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return &DecodingError{Err: err}
	}
	return nil
}
