package embedding

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"empty", []float32{}},
		{"single", []float32{1.5}},
		{"typical", []float32{0.1, -0.2, 0.3, -0.4}},
		{"extremes", []float32{math.MaxFloat32, -math.MaxFloat32, math.SmallestNonzeroFloat32}},
		{"special values", []float32{float32(math.Inf(1)), float32(math.Inf(-1)), 0, -0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.vector)
			if len(encoded) != len(tt.vector)*4 {
				t.Fatalf("encoded length = %d, want %d", len(encoded), len(tt.vector)*4)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(decoded) != len(tt.vector) {
				t.Fatalf("decoded length = %d, want %d", len(decoded), len(tt.vector))
			}
			for i := range tt.vector {
				if math.Float32bits(decoded[i]) != math.Float32bits(tt.vector[i]) {
					t.Errorf("element %d: got %v (bits %x), want %v (bits %x)",
						i, decoded[i], math.Float32bits(decoded[i]), tt.vector[i], math.Float32bits(tt.vector[i]))
				}
			}
		})
	}
}

func TestEncodeDecode_RoundTripNaN(t *testing.T) {
	encoded := Encode([]float32{float32(math.NaN())})
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !math.IsNaN(float64(decoded[0])) {
		t.Errorf("expected NaN to survive the round trip, got %v", decoded[0])
	}
}

func TestDecode_MalformedLength(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7} {
		if _, err := Decode(make([]byte, n)); !errors.Is(err, ErrMalformedVector) {
			t.Errorf("Decode(%d bytes) error = %v, want ErrMalformedVector", n, err)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero left", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero right", []float32{1, 1}, []float32{0, 0}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestCosineSimilarity_StaysInBounds(t *testing.T) {
	// Vectors chosen so naive float math can drift just past 1.0.
	a := []float32{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	got, err := CosineSimilarity(a, a)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if got < -1 || got > 1 {
		t.Errorf("similarity %v outside [-1, 1]", got)
	}
	if math.Abs(got-1) > 1e-6 {
		t.Errorf("self similarity = %v, want ~1", got)
	}
}

func TestCosineSimilarity_NonFiniteDegradesToZero(t *testing.T) {
	inf := float32(math.Inf(1))
	got, err := CosineSimilarity([]float32{inf, 0}, []float32{1, 0})
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if got != 0 {
		t.Errorf("similarity with infinite component = %v, want 0", got)
	}
}

func TestIsZero(t *testing.T) {
	if !IsZero([]float32{0, 0, 0}) {
		t.Error("expected all-zero vector to be zero")
	}
	if !IsZero(nil) {
		t.Error("expected nil vector to be zero")
	}
	if IsZero([]float32{0, 1e-9, 0}) {
		t.Error("expected non-zero vector to not be zero")
	}
}

func TestHashText(t *testing.T) {
	a := HashText("funny cat meme")
	b := HashText("funny cat meme")
	c := HashText("funny dog meme")

	if a != b {
		t.Error("same text should hash identically")
	}
	if a == c {
		t.Error("different text should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
