// Package embedding provides vector encoding, similarity math, and the
// text-embedding providers used to build the semantic index.
package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedVector is returned when stored vector bytes cannot be decoded.
var ErrMalformedVector = errors.New("malformed vector bytes")

// Encode serializes a vector as little-endian IEEE-754 floats, 4 bytes per element.
func Encode(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode is the inverse of Encode. A byte length that is not a multiple of 4
// indicates corruption and fails with ErrMalformedVector.
func Decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedVector, len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}
