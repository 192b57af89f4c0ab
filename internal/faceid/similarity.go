package faceid

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 and 1. Exactly 1 is reserved for equal vectors; distinct
// vectors, scalar multiples included, stay strictly below it.
// Zero vectors have similarity 0 to everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ValidationErrorf("cannot compare empty vectors")
	}
	if len(a) != len(b) {
		return 0, ValidationErrorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	if equalVectors(a, b) && !isZero(a) {
		return 1, nil
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1) to handle floating point errors
	if similarity >= 1 {
		similarity = math.Nextafter(1, 0)
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity, nil
}

// CosineDistance computes 1 - cosine similarity (0 identical, 2 opposite).
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// Mean returns the element-wise mean of vectors, which must share a dimension.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ValidationErrorf("cannot average zero vectors")
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, ValidationErrorf("dimension mismatch: %d vs %d", dim, len(v))
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	centroid := make([]float32, dim)
	for i := range sum {
		centroid[i] = float32(sum[i] / float64(len(vectors)))
	}
	return centroid, nil
}

func equalVectors(a, b []float32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
