package embed

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	blob := EncodeVector(vec)
	if len(blob) != 16 {
		t.Fatalf("blob length = %d, want 16", len(blob))
	}

	got, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("got %d values, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestDecodeVectorBadLength(t *testing.T) {
	if _, err := DecodeVector(make([]byte, 5)); err == nil {
		t.Error("expected error for blob length not a multiple of 4")
	}
}

func TestEncodeVectorEmpty(t *testing.T) {
	blob := EncodeVector(nil)
	if len(blob) != 0 {
		t.Errorf("blob length = %d, want 0", len(blob))
	}
	got, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d values, want 0", len(got))
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{2, 0}, []float32{8, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"dimension mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"both empty", nil, nil, 0},
	}
	for _, tt := range tests {
		got := Cosine(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: Cosine = %v, want %v", tt.name, got, tt.want)
		}
	}
}
