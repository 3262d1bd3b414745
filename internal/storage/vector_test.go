package storage

import (
	"math"
	"testing"
)

func TestEncodeDecodeVector(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", nil},
		{"single", []float32{0.5}},
		{"typical", []float32{0.1, -0.2, 0.3, 1.0, -1.0}},
		{"extremes", []float32{math.MaxFloat32, -math.MaxFloat32, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := decodeVector(encodeVector(tt.vec))
			if err != nil {
				t.Fatalf("decodeVector() error = %v", err)
			}
			if len(decoded) != len(tt.vec) {
				t.Fatalf("decoded length = %d, want %d", len(decoded), len(tt.vec))
			}
			for i := range tt.vec {
				if decoded[i] != tt.vec[i] {
					t.Errorf("decoded[%d] = %f, want %f", i, decoded[i], tt.vec[i])
				}
			}
		})
	}
}

func TestDecodeVectorBadLength(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("decodeVector() with truncated blob expected error, got nil")
	}
}
