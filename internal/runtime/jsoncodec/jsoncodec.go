// Package jsoncodec is the single JSON implementation used for envelope
// payloads. It follows encoding/json semantics (sonic.ConfigStd) so values
// round-trip the same way they would with the standard library.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data holds exactly one JSON value. The parse error is
// returned so callers can attach it to a decoding failure.
func Valid(data []byte) error {
	var probe any
	return api.Unmarshal(data, &probe)
}

func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
