package faceid

import (
	"math"
)

// FaceEmbedding is a fixed-length vector tagged with the variant that produced it.
type FaceEmbedding struct {
	Variant Variant   `json:"model_variant"`
	Vector  []float32 `json:"embedding"`
}

// NewFaceEmbedding validates vec against the spec's dimension. The vector is copied.
func NewFaceEmbedding(spec VariantSpec, vec []float32) (FaceEmbedding, error) {
	if len(vec) != spec.Dimension {
		return FaceEmbedding{}, ValidationErrorf("model variant %q expects %d dimensions, got %d",
			spec.Name, spec.Dimension, len(vec))
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return FaceEmbedding{}, ValidationErrorf("embedding component %d is not finite", i)
		}
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return FaceEmbedding{Variant: spec.Name, Vector: out}, nil
}

// Dimension returns the vector length.
func (e FaceEmbedding) Dimension() int {
	return len(e.Vector)
}

// Validate checks the embedding against the registry's declared dimension.
func (e FaceEmbedding) Validate(r *Registry) error {
	spec, err := r.Lookup(e.Variant)
	if err != nil {
		return err
	}
	if len(e.Vector) != spec.Dimension {
		return ValidationErrorf("model variant %q expects %d dimensions, got %d",
			spec.Name, spec.Dimension, len(e.Vector))
	}
	return nil
}

// Compatible reports whether two embeddings can be compared.
func (e FaceEmbedding) Compatible(other FaceEmbedding) error {
	if e.Variant != other.Variant {
		return ValidationErrorf("cannot compare %q embedding with %q embedding", e.Variant, other.Variant)
	}
	if len(e.Vector) != len(other.Vector) {
		return ValidationErrorf("dimension mismatch: %d vs %d", len(e.Vector), len(other.Vector))
	}
	return nil
}

// LabeledEmbedding is an embedding already linked to an identity.
type LabeledEmbedding struct {
	Embedding   FaceEmbedding
	IdentityID  string
	DetectionID string
}
