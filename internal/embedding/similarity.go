package embedding

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different widths are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CosineSimilarity computes dot(a,b) / (|a|*|b|) on a [-1, 1] scale.
// Comparing vectors of different lengths is a programming or data defect and
// fails with ErrDimensionMismatch. Degenerate input (either norm zero, or a
// non-finite result) degrades to 0.0 rather than erroring, since vectors with
// no usable signal are an expected steady-state condition.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, nil
	}

	// Clamp floating point drift back into the valid range.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// IsZero reports whether every element of the vector is exactly zero.
// An all-zero vector carries no signal and must never enter the index.
func IsZero(vector []float32) bool {
	for _, v := range vector {
		if v != 0 {
			return false
		}
	}
	return true
}
