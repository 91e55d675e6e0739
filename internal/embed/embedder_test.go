package embed

import (
	"math"
	"strings"
	"testing"
)

func TestFitDim(t *testing.T) {
	tests := []struct {
		name    string
		vec     []float32
		dim     int
		wantLen int
		wantErr bool
	}{
		{"native width kept when dim is zero", []float32{1, 2, 3}, 0, 3, false},
		{"exact match untouched", []float32{1, 0, 0}, 3, 3, false},
		{"wider vector truncated", make([]float32, 3072), 768, 768, false},
		{"narrower vector rejected", []float32{1, 0}, 768, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fitDim(tt.vec, tt.dim)
			if tt.wantErr {
				if err == nil {
					t.Fatal("fitDim() = nil error, want dimension mismatch")
				}
				return
			}
			if err != nil {
				t.Fatalf("fitDim() error = %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestFitDim_TruncationRenormalizes(t *testing.T) {
	// A unit vector at the model's native width is no longer unit length
	// after truncation; cosine search expects it renormalized.
	vec := make([]float32, 3072)
	for i := range vec {
		vec[i] = float32(1 / math.Sqrt(3072))
	}

	got, err := fitDim(vec, 768)
	if err != nil {
		t.Fatalf("fitDim() error = %v", err)
	}

	var sum float64
	for _, v := range got {
		sum += float64(v) * float64(v)
	}
	if norm := math.Sqrt(sum); math.Abs(norm-1) > 1e-4 {
		t.Errorf("truncated vector norm = %v, want 1", norm)
	}
}

func TestFitDim_NarrowerVectorErrorNamesDimensions(t *testing.T) {
	_, err := fitDim([]float32{1, 0, 0}, 768)
	if err == nil {
		t.Fatal("fitDim() = nil error")
	}
	if !strings.Contains(err.Error(), "3") || !strings.Contains(err.Error(), "768") {
		t.Errorf("error %q does not name both dimensions", err)
	}
}
