package faceid

import (
	"errors"
	"math"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]VariantSpec{
		{Name: "dlib", Dimension: 128, Runner: RunnerNative},
		{Name: "arcface", Dimension: 512, Runner: RunnerPython, Model: "ArcFace"},
	}, "")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
		delta    float64
	}{
		{"identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0, 0},
		{"identical non-unit vectors", []float32{0.3, 0.1, 0.7}, []float32{0.3, 0.1, 0.7}, 1.0, 0},
		{"opposite vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0, 0.001},
		{"orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0, 0.001},
		{"similar vectors", []float32{1, 1, 0}, []float32{1, 0, 0}, 0.707, 0.01},
		{"scaled vectors", []float32{2, 4, 6}, []float32{1, 2, 3}, 1.0, 1e-9},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0.0, 0.001},
		{"two zero vectors", []float32{0, 0}, []float32{0, 0}, 0.0, 0.001},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := CosineSimilarity(tc.a, tc.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(result-tc.expected) > tc.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f; want %f (±%f)",
					tc.a, tc.b, result, tc.expected, tc.delta)
			}
		})
	}
}

func TestCosineSimilarity_OneOnlyForEqualVectors(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
	}{
		{"tiny component", []float32{1, 1e-8}, []float32{1, 0}},
		{"scalar multiple", []float32{1, 2, 3}, []float32{2, 4, 6}},
		{"last bit differs", []float32{0.5, 0.5, 0.5, 0.50000006}, []float32{0.5, 0.5, 0.5, 0.5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := CosineSimilarity(tc.a, tc.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result >= 1 {
				t.Errorf("expected similarity below 1 for distinct vectors, got %v", result)
			}
			if result < 0.999 {
				t.Errorf("expected similarity close to 1, got %v", result)
			}
		})
	}
}

func TestCosineSimilarity_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
	}{
		{"empty vectors", []float32{}, []float32{}},
		{"different lengths", []float32{1, 0}, []float32{1, 0, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CosineSimilarity(tc.a, tc.b)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	dist, err := CosineDistance([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(dist-1.0) > 1e-9 {
		t.Errorf("expected distance 1.0, got %f", dist)
	}

	dist, err = CosineDistance([]float32{0.5, 0.5}, []float32{0.5, 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist != 0 {
		t.Errorf("expected distance 0 for identical vectors, got %v", dist)
	}
}

func TestMean(t *testing.T) {
	centroid, err := Mean([][]float32{{1, 0}, {0, 1}, {2, 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(float64(centroid[0])-1.0) > 1e-6 || math.Abs(float64(centroid[1])-1.0) > 1e-6 {
		t.Errorf("expected [1 1], got %v", centroid)
	}

	if _, err := Mean(nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for empty input, got %v", err)
	}
	if _, err := Mean([][]float32{{1}, {1, 2}}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for mismatched input, got %v", err)
	}
}

func TestNewFaceEmbedding(t *testing.T) {
	r := testRegistry(t)
	spec, err := r.Lookup("dlib")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	vec := make([]float32, 128)
	vec[3] = 0.25
	emb, err := NewFaceEmbedding(spec, vec)
	if err != nil {
		t.Fatalf("NewFaceEmbedding failed: %v", err)
	}
	if emb.Dimension() != 128 {
		t.Errorf("expected dimension 128, got %d", emb.Dimension())
	}
	if emb.Variant != "dlib" {
		t.Errorf("expected variant dlib, got %q", emb.Variant)
	}

	// The embedding must not alias the caller's slice.
	vec[3] = 99
	if emb.Vector[3] != 0.25 {
		t.Error("embedding aliases the input slice")
	}

	if err := emb.Validate(r); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestNewFaceEmbedding_RejectsWrongDimension(t *testing.T) {
	r := testRegistry(t)
	spec, _ := r.Lookup("arcface")

	for _, n := range []int{0, 128, 511, 513} {
		if _, err := NewFaceEmbedding(spec, make([]float32, n)); !errors.Is(err, ErrValidation) {
			t.Errorf("dimension %d: expected ErrValidation, got %v", n, err)
		}
	}
}

func TestNewFaceEmbedding_RejectsNonFinite(t *testing.T) {
	spec := VariantSpec{Name: "tiny", Dimension: 2}
	if _, err := NewFaceEmbedding(spec, []float32{float32(math.NaN()), 0}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for NaN, got %v", err)
	}
	if _, err := NewFaceEmbedding(spec, []float32{float32(math.Inf(1)), 0}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for Inf, got %v", err)
	}
}

func TestCompatible(t *testing.T) {
	a := FaceEmbedding{Variant: "dlib", Vector: []float32{1, 2}}
	b := FaceEmbedding{Variant: "arcface", Vector: []float32{1, 2}}
	c := FaceEmbedding{Variant: "dlib", Vector: []float32{1, 2, 3}}

	if err := a.Compatible(a); err != nil {
		t.Errorf("expected compatible, got %v", err)
	}
	if err := a.Compatible(b); !errors.Is(err, ErrValidation) {
		t.Errorf("expected variant mismatch, got %v", err)
	}
	if err := a.Compatible(c); !errors.Is(err, ErrValidation) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := testRegistry(t)

	if r.Default() != "dlib" {
		t.Errorf("expected default dlib, got %q", r.Default())
	}

	spec, err := r.Lookup("")
	if err != nil || spec.Name != "dlib" {
		t.Errorf("empty lookup should resolve to default, got %v, %v", spec.Name, err)
	}

	if _, err := r.Lookup("vgg-face"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("expected ErrUnsupportedModel, got %v", err)
	}

	specs := r.Specs()
	if len(specs) != 2 || specs[0].Name != "dlib" || specs[1].Name != "arcface" {
		t.Errorf("expected specs in table order [dlib arcface], got %v", specs)
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		specs []VariantSpec
		def   Variant
	}{
		{"empty", nil, ""},
		{"missing name", []VariantSpec{{Dimension: 128}}, ""},
		{"zero dimension", []VariantSpec{{Name: "a"}}, ""},
		{"unknown runner", []VariantSpec{{Name: "a", Dimension: 1, Runner: "grpc"}}, ""},
		{"duplicate", []VariantSpec{{Name: "a", Dimension: 1}, {Name: "a", Dimension: 2}}, ""},
		{"unknown default", []VariantSpec{{Name: "a", Dimension: 1}}, "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.specs, tt.def); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestGenerationError(t *testing.T) {
	cause := errors.New("signal: killed")
	var err error = &GenerationError{Kind: KindCrash, Message: "worker exited", ExitCode: -1, Err: cause}

	genErr, ok := AsGenerationError(err)
	if !ok {
		t.Fatal("expected AsGenerationError to match")
	}
	if genErr.Kind != KindCrash {
		t.Errorf("expected kind crash, got %s", genErr.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("expected GenerationError to unwrap to its cause")
	}
	if _, ok := AsGenerationError(NotFoundError("x.jpg")); ok {
		t.Error("NotFoundError must not be a GenerationError")
	}
}
